package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/provenance"
	"github.com/git-stunts/warpgraph/internal/warpgraph"
	"github.com/spf13/cobra"
)

const btrKeyEnv = "WARP_BTR_KEY"

var (
	btrOutFile string
	btrKeyHex  string
	btrReplay  bool
)

var btrCreateCmd = &cobra.Command{
	Use:   "btr-create [entity-id]",
	Short: "Sign a Boundary Transition Record for an entity's causal cone",
	Long: `btr-create slices the entity's backward causal cone (spec §4.9) and signs
it into a canonical-CBOR-encoded Boundary Transition Record, written to
--out or stdout as hex.`,
	Args: cobra.ExactArgs(1),
	RunE: runBTRCreate,
}

var btrVerifyCmd = &cobra.Command{
	Use:   "btr-verify [file]",
	Short: "Verify a Boundary Transition Record's HMAC tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runBTRVerify,
}

func init() {
	btrCreateCmd.Flags().StringVar(&btrOutFile, "out", "", "write the signed BTR (hex-encoded CBOR) to this file (default: stdout)")
	btrCreateCmd.Flags().StringVar(&btrKeyHex, "key", "", "hex-encoded signing key (default: "+btrKeyEnv+" env var)")

	btrVerifyCmd.Flags().StringVar(&btrKeyHex, "key", "", "hex-encoded signing key (default: "+btrKeyEnv+" env var)")
	btrVerifyCmd.Flags().BoolVar(&btrReplay, "replay", false, "also replay the payload and confirm hOut matches")
}

func btrKey() ([]byte, error) {
	raw := btrKeyHex
	if raw == "" {
		raw = os.Getenv(btrKeyEnv)
	}
	if raw == "" {
		return nil, fmt.Errorf("no signing key: pass --key or set %s", btrKeyEnv)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding hex signing key: %w", err)
	}
	return key, nil
}

func runBTRCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	key, err := btrKey()
	if err != nil {
		return err
	}

	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	if _, err := g.Materialize(ctx, warpgraph.MaterializeOptions{}); err != nil {
		return fmt.Errorf("materialize before btr-create: %w", err)
	}

	btr, err := g.CreateEntityBTR(ctx, args[0], key)
	if err != nil {
		return fmt.Errorf("btr-create: %w", err)
	}

	codec := canon.New()
	encoded, err := codec.Encode(btr)
	if err != nil {
		return fmt.Errorf("encoding BTR: %w", err)
	}
	out := []byte(hex.EncodeToString(encoded))

	if btrOutFile == "" {
		fmt.Println(string(out))
		return nil
	}
	return os.WriteFile(btrOutFile, out, 0o644)
}

func runBTRVerify(cmd *cobra.Command, args []string) error {
	key, err := btrKey()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	decoded, err := hex.DecodeString(string(trimTrailingNewline(raw)))
	if err != nil {
		return fmt.Errorf("decoding hex BTR: %w", err)
	}

	codec := canon.New()
	var btr provenance.BTR
	if err := codec.Decode(decoded, &btr); err != nil {
		return fmt.Errorf("parsing BTR: %w", err)
	}

	result, err := provenance.VerifyBTR(codec, key, btr, btrReplay)
	if err != nil {
		return fmt.Errorf("btr-verify: %w", err)
	}
	if result.Valid {
		fmt.Println("valid")
		return nil
	}
	fmt.Printf("invalid: %s\n", result.Reason)
	os.Exit(1)
	return nil
}

func trimTrailingNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
