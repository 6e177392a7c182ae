package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/veilcase/veilcase/pkg/attest"
	"github.com/veilcase/veilcase/pkg/fhe"
)

const usage = "usage: vcctl keygen | vcctl proof make --key <seed-hex> --handle <ct_..> --value <n> [--out <path>] | vcctl proof verify --pub <pub-hex> --handle <ct_..> --value <n> --proof <path>"

func main() {
	if len(os.Args) < 2 {
		failSummary(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "proof":
		runProof(os.Args[2:])
	default:
		failSummary("unknown command")
		os.Exit(2)
	}
}

func runKeygen() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		failSummary("keygen failed: " + err.Error())
		os.Exit(1)
	}
	writeSummary(map[string]any{
		"status":      "OK",
		"public_key":  hex.EncodeToString(pub),
		"private_key": hex.EncodeToString(priv.Seed()),
	})
}

func runProof(args []string) {
	if len(args) < 1 {
		failSummary(usage)
		os.Exit(2)
	}
	switch args[0] {
	case "make":
		runProofMake(args[1:])
	case "verify":
		runProofVerify(args[1:])
	default:
		failSummary(usage)
		os.Exit(2)
	}
}

func runProofMake(args []string) {
	fs := flag.NewFlagSet("proof make", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	keyHex := fs.String("key", "", "attestation key seed, hex")
	handle := fs.String("handle", "", "ciphertext handle the proof covers")
	value := fs.Uint("value", 0, "cleartext result value")
	out := fs.String("out", "", "output path for the proof envelope (default stdout)")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*keyHex) == "" || strings.TrimSpace(*handle) == "" {
		failSummary("both --key and --handle are required")
		os.Exit(2)
	}
	if *value > 0xFFFFFFFF {
		failSummary("--value must fit in 32 bits")
		os.Exit(2)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(*keyHex))
	if err != nil || len(seed) != ed25519.SeedSize {
		failSummary("--key must be a 32-byte hex seed")
		os.Exit(2)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	payload := fhe.EncodeWord(uint32(*value))
	claim := attest.OpeningClaim{
		Handles: []string{strings.TrimSpace(*handle)},
		Payload: base64.StdEncoding.EncodeToString(payload),
	}
	proof, err := attest.Sign(priv, attest.KindOpening, claim, time.Now())
	if err != nil {
		failSummary("sign failed: " + err.Error())
		os.Exit(1)
	}

	if strings.TrimSpace(*out) != "" {
		if err := os.WriteFile(*out, proof, 0o644); err != nil {
			failSummary("write proof failed: " + err.Error())
			os.Exit(1)
		}
	} else {
		fmt.Println(string(proof))
	}
	writeSummary(map[string]any{
		"status":         "OK",
		"handle":         strings.TrimSpace(*handle),
		"value":          uint32(*value),
		"encoded_result": base64.StdEncoding.EncodeToString(payload),
	})
}

func runProofVerify(args []string) {
	fs := flag.NewFlagSet("proof verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	pubHex := fs.String("pub", "", "trusted attestation public key, hex")
	handle := fs.String("handle", "", "ciphertext handle the proof must cover")
	value := fs.Uint("value", 0, "cleartext result value the proof must cover")
	proofPath := fs.String("proof", "", "path to the proof envelope")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*pubHex) == "" || strings.TrimSpace(*handle) == "" || strings.TrimSpace(*proofPath) == "" {
		failSummary("--pub, --handle and --proof are required")
		os.Exit(2)
	}
	pub, err := hex.DecodeString(strings.TrimSpace(*pubHex))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		failSummary("--pub must be a 32-byte hex public key")
		os.Exit(2)
	}
	proof, err := os.ReadFile(*proofPath)
	if err != nil {
		failSummary("read proof failed: " + err.Error())
		os.Exit(1)
	}

	claim := attest.OpeningClaim{
		Handles: []string{strings.TrimSpace(*handle)},
		Payload: base64.StdEncoding.EncodeToString(fhe.EncodeWord(uint32(*value))),
	}
	res, err := attest.Verify(ed25519.PublicKey(pub), attest.KindOpening, claim, proof)
	if err != nil {
		writeSummary(map[string]any{"status": "REJECTED", "reason": err.Error()})
		os.Exit(1)
	}
	writeSummary(map[string]any{
		"status":    "VERIFIED",
		"issued_at": res.IssuedAt.Format(time.RFC3339Nano),
	})
}

func writeSummary(v map[string]any) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(v)
}

func failSummary(message string) {
	writeSummary(map[string]any{"status": "FAILED", "reason": message})
}
