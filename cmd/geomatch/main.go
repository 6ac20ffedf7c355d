// Command geomatch administers a privacy-preserving geo-matchmaking state
// database: jurisdiction policy, the Groth16 verification key, and
// two-party matchmaking sessions. State lives in a local pebble database;
// each invocation advances the persisted logical clock by one.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/groth16"
	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/internal/policy"
	"github.com/geotrust/geomatch/internal/replay"
	"github.com/geotrust/geomatch/internal/session"
	"github.com/geotrust/geomatch/internal/store"
	"github.com/geotrust/geomatch/pkg/db/pebble"
	"github.com/geotrust/geomatch/pkg/log"
)

const (
	envDBPath   = "GEOMATCH_DB"
	envLogLevel = "GEOMATCH_LOG_LEVEL"

	defaultDBPath = "geomatch-db"

	// replayHorizon is how many sequence numbers a consumed proof id is
	// retained before it may be pruned.
	replayHorizon ledgertime.Seq = 10_000

	// sessionTTL is how many sequence numbers a session record lives past
	// its last write.
	sessionTTL ledgertime.Seq = 1_000
)

var (
	flagDB     string
	flagAs     string
	flagPlayer string
	flagCell   uint32
	flagCode   uint32
	flagTag    string
	flagProof  string
)

// env bundles the wired application for one command invocation.
type env struct {
	kv       *pebble.KVStore
	clock    *ledgertime.Counter
	policy   *policy.Engine
	verifier *groth16.Verifier
	coord    *session.Coordinator
	guard    *replay.Guard
	timed    *store.Timed
}

// withEnv opens the database, wires the engines around it and persists the
// advanced clock after fn succeeds.
func withEnv(fn func(*env) error) error {
	kv, err := pebble.NewPersistentKVStore(flagDB)
	if err != nil {
		return fmt.Errorf("open database %q: %w", flagDB, err)
	}
	defer kv.Close()

	seq, err := store.GetClockSeq(kv)
	if err != nil {
		return err
	}
	clock := ledgertime.NewCounter(seq)
	clock.Advance()

	policies := store.NewPolicies(kv)
	engine := policy.NewEngine(policies, log.Policy)
	guard := replay.NewGuard(store.NewReplays(kv), replayHorizon)

	// The verification key is administered by the global policy admin.
	admin, _, err := policies.GlobalAdmin()
	if err != nil {
		return err
	}
	verifier := groth16.NewVerifier(store.NewKeys(kv), guard, clock, admin, log.Verifier)
	coord := session.NewCoordinator(
		store.NewSessions(kv),
		engine,
		verifier,
		nil,
		clock,
		session.Config{SessionTTL: sessionTTL},
		log.Session,
	)

	e := &env{
		kv:       kv,
		clock:    clock,
		policy:   engine,
		verifier: verifier,
		coord:    coord,
		guard:    guard,
		timed:    store.NewTimed(kv),
	}
	if err := fn(e); err != nil {
		return err
	}
	return store.PutClockSeq(kv, clock.Current())
}

func parsePrincipal(s string) (crypto.Principal, error) {
	p, err := crypto.PrincipalFromHex(s)
	if err != nil {
		return crypto.Principal{}, fmt.Errorf("parse principal %q: %w", s, err)
	}
	return p, nil
}

func caller() (crypto.Principal, error) {
	if flagAs == "" {
		return crypto.Principal{}, fmt.Errorf("--as is required")
	}
	return parsePrincipal(flagAs)
}

func player() (crypto.Principal, error) {
	if flagPlayer == "" {
		return crypto.Principal{}, fmt.Errorf("--player is required")
	}
	return parsePrincipal(flagPlayer)
}

func parseU32(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return uint32(v), nil
}

func buildClaim() (session.PlayerClaim, error) {
	claim := session.PlayerClaim{Cell: flagCell, Code: flagCode}
	if flagTag != "" {
		raw, err := hex.DecodeString(flagTag)
		if err != nil || len(raw) != len(claim.Tag) {
			return session.PlayerClaim{}, fmt.Errorf("--tag must be %d hex bytes", len(claim.Tag))
		}
		copy(claim.Tag[:], raw)
	}
	return claim, nil
}

func loadProof() (*groth16.Proof, error) {
	if flagProof == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(flagProof)
	if err != nil {
		return nil, fmt.Errorf("read proof file: %w", err)
	}
	proof := new(groth16.Proof)
	if err := proof.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return proof, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geomatch",
		Short:         "privacy-preserving geo-matchmaking state administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLogLevel(envOr(envLogLevel, "info"))
			if err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagDB, "db", envOr(envDBPath, defaultDBPath), "path to the state database")
	root.PersistentFlags().StringVar(&flagAs, "as", "", "acting principal, hex encoded")

	root.AddCommand(newInitCmd(), newPolicyCmd(), newVKCmd(), newSessionCmd(), newPruneCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newInitCmd() *cobra.Command {
	var defaultAllow bool
	cmd := &cobra.Command{
		Use:   "init <admin-hex>",
		Short: "initialize the state database with its global admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := parsePrincipal(args[0])
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				if err := e.policy.Init(admin, defaultAllow); err != nil {
					return err
				}
				fmt.Printf("initialized, global admin %s\n", admin)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&defaultAllow, "default-allow", false, "allow jurisdictions with no explicit policy entry")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "administer jurisdiction policy",
	}

	set := &cobra.Command{
		Use:   "set <code> <allow|deny>",
		Short: "set the policy entry for a jurisdiction code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseU32(args[0], "code")
			if err != nil {
				return err
			}
			allowed, err := parseVerdict(args[1])
			if err != nil {
				return err
			}
			who, err := caller()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				return e.policy.SetPolicy(who, code, allowed)
			})
		},
	}

	def := &cobra.Command{
		Use:   "default <allow|deny>",
		Short: "set the fallback verdict for codes with no entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed, err := parseVerdict(args[0])
			if err != nil {
				return err
			}
			who, err := caller()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				return e.policy.SetDefault(who, allowed)
			})
		},
	}

	delegate := &cobra.Command{
		Use:   "delegate <code> <admin-hex|->",
		Short: "delegate (or with '-' revoke) admin authority for one code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseU32(args[0], "code")
			if err != nil {
				return err
			}
			who, err := caller()
			if err != nil {
				return err
			}
			var delegate *crypto.Principal
			if args[1] != "-" {
				p, err := parsePrincipal(args[1])
				if err != nil {
					return err
				}
				delegate = &p
			}
			return withEnv(func(e *env) error {
				return e.policy.Delegate(who, code, delegate)
			})
		},
	}

	var page, pageSize uint32
	list := &cobra.Command{
		Use:   "list",
		Short: "list explicitly allowed jurisdiction codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				defaultAllow, allowed, denied, err := e.policy.Summary()
				if err != nil {
					return err
				}
				fmt.Printf("default allow: %v, allowed: %d, denied: %d\n", defaultAllow, allowed, denied)
				codes, err := e.policy.ListAllowedCodes(page, pageSize)
				if err != nil {
					return err
				}
				for _, code := range codes {
					fmt.Println(code)
				}
				return nil
			})
		},
	}
	list.Flags().Uint32Var(&page, "page", 0, "page number")
	list.Flags().Uint32Var(&pageSize, "page-size", 100, "codes per page")

	cmd.AddCommand(set, def, delegate, list)
	return cmd
}

func parseVerdict(s string) (bool, error) {
	switch s {
	case "allow":
		return true, nil
	case "deny":
		return false, nil
	default:
		return false, fmt.Errorf("verdict must be allow or deny, got %q", s)
	}
}

func newVKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vk",
		Short: "manage the Groth16 verification key",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "import a gnark-exported verification key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := caller()
			if err != nil {
				return err
			}
			vk, err := readGnarkVK(args[0])
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				if err := e.verifier.SetVerificationKey(who, vk); err != nil {
					return err
				}
				hash, err := e.verifier.VerificationKeyHash()
				if err != nil {
					return err
				}
				fmt.Printf("verification key published, hash %s\n", hash)
				return nil
			})
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash",
		Short: "print the hash of the published verification key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				hash, err := e.verifier.VerificationKeyHash()
				if err != nil {
					return err
				}
				fmt.Println(hash)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "remove the published verification key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := caller()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				return e.verifier.ClearVerificationKey(who)
			})
		},
	}

	cmd.AddCommand(importCmd, hashCmd, clearCmd)
	return cmd
}

// readGnarkVK reads a verification key in gnark's native serialization and
// converts it to the internal representation.
func readGnarkVK(path string) (*groth16.VerificationKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open verification key: %w", err)
	}
	defer f.Close()

	gvk := gnarkgroth16.NewVerifyingKey(ecc.BN254)
	if _, err := gvk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read verification key: %w", err)
	}
	bvk, ok := gvk.(*groth16bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("unexpected verification key backend %T", gvk)
	}
	return &groth16.VerificationKey{
		Alpha: bvk.G1.Alpha,
		Beta:  bvk.G2.Beta,
		Gamma: bvk.G2.Gamma,
		Delta: bvk.G2.Delta,
		IC:    bvk.G1.K,
	}, nil
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "drive the matchmaking state machine",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "open a waiting session as player A",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := player()
			if err != nil {
				return err
			}
			claim, err := buildClaim()
			if err != nil {
				return err
			}
			proof, err := loadProof()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				id, err := e.coord.CreateSession(who, claim, proof)
				if err != nil {
					return err
				}
				fmt.Printf("session %d created\n", id)
				return nil
			})
		},
	}

	join := &cobra.Command{
		Use:   "join <id>",
		Short: "join a waiting session as player B",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseU32(args[0], "session id")
			if err != nil {
				return err
			}
			who, err := player()
			if err != nil {
				return err
			}
			claim, err := buildClaim()
			if err != nil {
				return err
			}
			proof, err := loadProof()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				if err := e.coord.JoinSession(who, id, claim, proof); err != nil {
					return err
				}
				fmt.Printf("session %d active\n", id)
				return nil
			})
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "resolve an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseU32(args[0], "session id")
			if err != nil {
				return err
			}
			who, err := player()
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				result, err := e.coord.ResolveMatch(who, id)
				if err != nil {
					return err
				}
				fmt.Printf("matched: %v, winner: %s\n", result.Matched, result.Winner)
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "print a session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseU32(args[0], "session id")
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				s, err := e.coord.GetSession(id)
				if err != nil {
					return err
				}
				fmt.Printf("session %d: %s\n", s.ID, s.State)
				fmt.Printf("  player A: %s (cell %d, code %d)\n", s.PlayerA, s.ClaimA.Cell, s.ClaimA.Code)
				if s.State != session.Waiting {
					fmt.Printf("  player B: %s (cell %d, code %d)\n", s.PlayerB, s.ClaimB.Cell, s.ClaimB.Code)
				}
				fmt.Printf("  created at seq %d\n", s.CreatedAt)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{create, join} {
		c.Flags().StringVar(&flagPlayer, "player", "", "acting player, hex encoded")
		c.Flags().Uint32Var(&flagCell, "cell", 0, "claimed grid cell")
		c.Flags().Uint32Var(&flagCode, "code", 0, "jurisdiction code")
		c.Flags().StringVar(&flagTag, "tag", "", "asset tag, 32 hex bytes")
		c.Flags().StringVar(&flagProof, "proof", "", "path to a serialized location proof")
	}
	resolve.Flags().StringVar(&flagPlayer, "player", "", "acting player, hex encoded")

	cmd.AddCommand(create, join, resolve, show)
	return cmd
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "remove expired sessions and replay records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				pruned, err := e.timed.PruneExpired(e.clock.Current())
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d records\n", pruned)
				return nil
			})
		},
	}
}

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
