package crypto

const (
	HashSize      = 32
	PrincipalSize = 32
)
