package main

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
)

const (
	lobbyCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lobbyCodeLength = 4
)

// GenerateLobbyCode returns a random code of four uppercase letters
func GenerateLobbyCode() string {
	code := make([]byte, lobbyCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(lobbyCodeChars))))
		if err != nil {
			code[i] = lobbyCodeChars[mrand.IntN(len(lobbyCodeChars))]
			continue
		}
		code[i] = lobbyCodeChars[n.Int64()]
	}
	return string(code)
}

// IsLobbyCode reports whether s has the shape of a lobby code
func IsLobbyCode(s string) bool {
	if len(s) != lobbyCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
