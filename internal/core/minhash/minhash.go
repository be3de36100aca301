// Package minhash computes MinHash signatures over character shingles of
// normalized source code, for near-duplicate detection and semantic
// candidate pruning.
package minhash

import (
	"hash/fnv"
	"regexp"
	"strings"
)

const (
	// K is the signature length (number of hash permutations).
	K = 128
	// Bands and RowsPerBand configure LSH bucketing: K = Bands*RowsPerBand.
	Bands       = 32
	RowsPerBand = 4

	shingleSize = 4
	hashPrime   = 4294967311 // first prime > 2^32
)

// Fixed permutation coefficients, generated once. h_i(x) = (a_i*x + b_i) mod p.
var (
	coeffA [K]uint64
	coeffB [K]uint64
)

func init() {
	// Deterministic xorshift seeding keeps signatures stable across runs
	// and nodes, which is required for band-bucket compatibility in
	// federation.
	state := uint64(0x9E3779B97F4A7C15)
	next := func() uint64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return state
	}
	for i := 0; i < K; i++ {
		coeffA[i] = next()%(hashPrime-1) + 1
		coeffB[i] = next() % hashPrime
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize lowercases code and collapses whitespace so that formatting
// differences do not affect the signature.
func Normalize(code string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(code)), " ")
}

// shingles yields the set of hashed character shingles of the normalized code.
func shingles(code string) map[uint32]struct{} {
	norm := Normalize(code)
	set := make(map[uint32]struct{})
	if len(norm) < shingleSize {
		if norm != "" {
			h := fnv.New32a()
			h.Write([]byte(norm))
			set[h.Sum32()] = struct{}{}
		}
		return set
	}
	for i := 0; i+shingleSize <= len(norm); i++ {
		h := fnv.New32a()
		h.Write([]byte(norm[i : i+shingleSize]))
		set[h.Sum32()] = struct{}{}
	}
	return set
}

// Signature computes the K-element MinHash signature of the code.
// Empty code yields a nil signature.
func Signature(code string) []uint32 {
	set := shingles(code)
	if len(set) == 0 {
		return nil
	}
	sig := make([]uint32, K)
	for i := range sig {
		sig[i] = ^uint32(0)
	}
	for s := range set {
		x := uint64(s)
		for i := 0; i < K; i++ {
			hv := uint32((coeffA[i]*x + coeffB[i]) % hashPrime)
			if hv < sig[i] {
				sig[i] = hv
			}
		}
	}
	return sig
}

// Similarity estimates Jaccard similarity from two signatures: the fraction
// of matching positions. Returns 0 when either signature is missing.
func Similarity(a, b []uint32) float64 {
	if len(a) != K || len(b) != K {
		return 0
	}
	match := 0
	for i := 0; i < K; i++ {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(K)
}

// BandKeys folds the signature into Bands bucket keys. Two signatures that
// agree on any band land in a shared bucket and become comparison
// candidates.
func BandKeys(sig []uint32) []uint64 {
	if len(sig) != K {
		return nil
	}
	keys := make([]uint64, Bands)
	for b := 0; b < Bands; b++ {
		h := fnv.New64a()
		for r := 0; r < RowsPerBand; r++ {
			v := sig[b*RowsPerBand+r]
			h.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
		}
		// Mix the band index in so identical row values in different bands
		// do not collide.
		h.Write([]byte{byte(b)})
		keys[b] = h.Sum64()
	}
	return keys
}

// ShareBand reports whether two signatures collide in at least one band.
func ShareBand(a, b []uint32) bool {
	ka, kb := BandKeys(a), BandKeys(b)
	if ka == nil || kb == nil {
		return false
	}
	for i := range ka {
		if ka[i] == kb[i] {
			return true
		}
	}
	return false
}

// TokenJaccard computes exact Jaccard similarity over word tokens; used as
// the precise check behind the banded candidate filter.
func TokenJaccard(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func tokenSet(code string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(strings.ToLower(code), -1) {
		set[tok] = struct{}{}
	}
	return set
}
