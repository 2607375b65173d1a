// Package keyring holds the named (key, IV) pairs used for FSGC containers
// and derives the pair a given track is transformed with.
package keyring

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	KeySize  = 16
	MaskSize = 2 * KeySize

	DefaultKeyName = "t0"
)

var (
	ErrMalformed    = errors.New("keyring: malformed keyfile")
	ErrUnknownKey   = errors.New("keyring: unknown key name")
	ErrUnknownTrack = errors.New("keyring: unknown track")
	ErrNoSalt       = errors.New("keyring: keyfile has no network salt")
)

// Pair is a key and the initial counter that goes with it.
type Pair struct {
	Key [KeySize]byte
	IV  [KeySize]byte
}

type Mask [MaskSize]byte

type Keyring struct {
	Default     string
	Mask        Mask
	NetworkSalt *Mask
	keys        map[string]Pair
	tracks      map[string]map[string]string
}

type keyfile struct {
	Default     string                       `json:"default"`
	Mask        string                       `json:"mask"`
	NetworkSalt string                       `json:"network_salt"`
	Keys        map[string]keyfileEntry      `json:"keys"`
	Tracks      map[string]map[string]string `json:"tracks"`
}

type keyfileEntry struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

func decodeHex(dst []byte, s string, what string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%w: %s: want %d bytes, got %d", ErrMalformed, what, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func Load(path string) (*Keyring, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kr, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kr, nil
}

func Parse(data []byte) (*Keyring, error) {
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kr := &Keyring{
		Default: kf.Default,
		keys:    make(map[string]Pair, len(kf.Keys)),
		tracks:  kf.Tracks,
	}
	if kr.Default == "" {
		kr.Default = DefaultKeyName
	}
	if kr.tracks == nil {
		kr.tracks = make(map[string]map[string]string)
	}

	if kf.Mask != "" {
		if err := decodeHex(kr.Mask[:], kf.Mask, "mask"); err != nil {
			return nil, err
		}
	}
	if kf.NetworkSalt != "" {
		var salt Mask
		if err := decodeHex(salt[:], kf.NetworkSalt, "network_salt"); err != nil {
			return nil, err
		}
		kr.NetworkSalt = &salt
	}
	for name, entry := range kf.Keys {
		var p Pair
		if err := decodeHex(p.Key[:], entry.Key, name+".key"); err != nil {
			return nil, err
		}
		if err := decodeHex(p.IV[:], entry.IV, name+".iv"); err != nil {
			return nil, err
		}
		kr.keys[name] = p
	}

	return kr, nil
}

func (kr *Keyring) Has(name string) bool {
	_, ok := kr.keys[name]
	return ok
}

func (kr *Keyring) Lookup(name string) (Pair, error) {
	p, ok := kr.keys[name]
	if !ok {
		return Pair{}, fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return p, nil
}

// KeyName maps a track of a game to the name of the key it is encrypted with.
func (kr *Keyring) KeyName(game, trackID string) (string, error) {
	name, ok := kr.tracks[game][trackID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownTrack, game, trackID)
	}
	return name, nil
}

// ApplyMask XORs the first half of mask into the key and the second half
// into the IV.
func ApplyMask(p Pair, mask Mask) Pair {
	for i := 0; i < KeySize; i++ {
		p.Key[i] ^= mask[i]
		p.IV[i] ^= mask[KeySize+i]
	}
	return p
}

// ApplyNetworkSalt folds index into salt, then applies the result as a mask.
func ApplyNetworkSalt(p Pair, salt Mask, index int) Pair {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], uint64(index))
	for i := range idx {
		salt[i] ^= idx[i]
		salt[KeySize+i] ^= idx[i]
	}
	return ApplyMask(p, salt)
}

// Selector names the key a container is transformed with.
type Selector struct {
	Game        string
	TrackID     string
	KeyName     string
	NetworkSalt bool
	Index       int
}

// Name resolves the key name: explicit name first, then the track table,
// then the keyring default.
func (kr *Keyring) Name(sel Selector) (string, error) {
	switch {
	case sel.KeyName != "":
		return sel.KeyName, nil
	case sel.TrackID != "":
		return kr.KeyName(sel.Game, sel.TrackID)
	default:
		return kr.Default, nil
	}
}

// Derive returns the (key, IV) pair for sel. It depends only on the keyring
// contents and sel.
func (kr *Keyring) Derive(sel Selector) (Pair, error) {
	name, err := kr.Name(sel)
	if err != nil {
		return Pair{}, err
	}
	p, err := kr.Lookup(name)
	if err != nil {
		return Pair{}, err
	}

	if !sel.NetworkSalt {
		return ApplyMask(p, kr.Mask), nil
	}

	if kr.NetworkSalt == nil {
		return Pair{}, ErrNoSalt
	}
	return ApplyNetworkSalt(p, *kr.NetworkSalt, sel.Index), nil
}
