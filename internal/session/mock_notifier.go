package session

import (
	"math/big"

	"github.com/stretchr/testify/mock"

	"github.com/geotrust/geomatch/internal/crypto"
)

func NewNotifierMock() *NotifierMock {
	return &NotifierMock{}
}

// NotifierMock is a test double for the GameHub boundary.
type NotifierMock struct {
	mock.Mock
}

func (n *NotifierMock) NotifyStart(sessionID uint32, playerA, playerB crypto.Principal, scoreA, scoreB *big.Int) error {
	args := n.MethodCalled("NotifyStart", sessionID, playerA, playerB, scoreA, scoreB)
	return args.Error(0)
}

func (n *NotifierMock) NotifyEnd(sessionID uint32, outcome bool) error {
	args := n.MethodCalled("NotifyEnd", sessionID, outcome)
	return args.Error(0)
}
