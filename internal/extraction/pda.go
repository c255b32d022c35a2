package extraction

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"stablecoin-transfers/internal/solana"
)

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("no viable bump seed")

const pdaMarker = "ProgramDerivedAddress"

// AssociatedTokenAddress derives the associated token account of wallet for
// mint under the given token program.
// Seeds: [wallet, tokenProgram, mint]
func AssociatedTokenAddress(wallet, mint, tokenProgram string) (string, error) {
	seeds := make([][]byte, 0, 3)
	for _, key := range []string{wallet, tokenProgram, mint} {
		b, err := decodePubkey(key)
		if err != nil {
			return "", err
		}
		seeds = append(seeds, b)
	}

	program, err := decodePubkey(solana.AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}
	return findProgramAddress(seeds, program)
}

func decodePubkey(key string) ([]byte, error) {
	b, err := base58.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", key, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("pubkey %q: expected 32 bytes, got %d", key, len(b))
	}
	return b, nil
}

// findProgramAddress searches bump seeds from 255 down for the first hash
// that is not a valid ed25519 point.
func findProgramAddress(seeds [][]byte, programID []byte) (string, error) {
	var size int
	for _, seed := range seeds {
		size += len(seed)
	}
	buf := make([]byte, 0, size+1+len(programID)+len(pdaMarker))

	for bump := 255; bump > 0; bump-- {
		buf = buf[:0]
		for _, seed := range seeds {
			buf = append(buf, seed...)
		}
		buf = append(buf, byte(bump))
		buf = append(buf, programID...)
		buf = append(buf, pdaMarker...)

		hash := sha256.Sum256(buf)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), nil
		}
	}
	return "", ErrNoViableBump
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
