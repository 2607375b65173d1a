package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/applepi-icpc/ghlcrypt/config"
	"github.com/applepi-icpc/ghlcrypt/fsgc"
	"github.com/applepi-icpc/ghlcrypt/keyring"
)

const testKeyfile = `{
	"mask": "00000000000000000000000000000000000000000000000000000000000000ff",
	"network_salt": "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f",
	"keys": {
		"t0": {"key": "00112233445566778899aabbccddeeff", "iv": "ffeeddccbbaa99887766554433221100"},
		"far": {"key": "000102030405060708090a0b0c0d0e0f", "iv": "0f0e0d0c0b0a09080706050403020100"}
	},
	"tracks": {"GHL": {"42": "far"}}
}`

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	keyfile := filepath.Join(dir, "keys.json")
	if err := os.WriteFile(keyfile, []byte(testKeyfile), 0600); err != nil {
		t.Fatalf("WriteFile: %s", err.Error())
	}
	return &config.Config{KeyFile: keyfile, Game: "GHL", LogLevel: "info", Workers: 2}
}

func TestParseArgs(t *testing.T) {
	cases := []struct {
		args       []string
		positional []string
		force      bool
		name       string
	}{
		{[]string{"a", "b"}, []string{"a", "b"}, false, ""},
		{[]string{"--force", "a", "b"}, []string{"a", "b"}, true, ""},
		{[]string{"a", "--key_name", "far", "b", "--force"}, []string{"a", "b"}, true, "far"},
		{[]string{"a", "--", "--force", "-o"}, []string{"a", "--force", "-o"}, false, ""},
	}
	for _, c := range cases {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		force := fs.Bool("force", false, "")
		name := fs.String("key_name", "", "")

		got, err := parseArgs(fs, c.args)
		if err != nil {
			t.Fatalf("parseArgs(%v): %s", c.args, err.Error())
		}
		if strings.Join(got, " ") != strings.Join(c.positional, " ") || *force != c.force || *name != c.name {
			t.Errorf("parseArgs(%v) = %v force=%v name=%q", c.args, got, *force, *name)
		}
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parseArgs(fs, []string{"--bogus"})
	var usageErr usageError
	if !errors.As(err, &usageErr) {
		t.Errorf("expected a usage error, got %v", err)
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf, "ghlcrypt", "de")
	out := buf.String()
	if !strings.Contains(out, "decrypt") || strings.Contains(out, "  encrypt") {
		t.Errorf("prefix filter not applied:\n%s", out)
	}

	buf.Reset()
	printUsage(&buf, "ghlcrypt", "zzz")
	for _, v := range verbs {
		if !strings.Contains(buf.String(), "  "+v.Name+" ") {
			t.Errorf("full listing is missing %s", v.Name)
		}
	}
}

func TestEncryptDecryptVerbs(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	plain := bytes.Repeat([]byte("wwise audio "), 100)

	in := filepath.Join(dir, "plain.wem")
	enc := filepath.Join(dir, "enc.wem")
	dec := filepath.Join(dir, "dec.wem")
	os.WriteFile(in, plain, 0644)

	for _, sel := range [][]string{
		nil,
		{"--key_name", "far"},
		{"--track_id", "42"},
		{"--network_salt", "--index", "7"},
	} {
		if err := runEncrypt(cfg, append(append([]string{}, sel...), in, enc)); err != nil {
			t.Fatalf("encrypt %v: %s", sel, err.Error())
		}
		container, _ := os.ReadFile(enc)
		if !bytes.HasPrefix(container, fsgc.Magic[:]) {
			t.Errorf("encrypt %v: output lacks the FSGC tag", sel)
		}
		if err := runDecrypt(cfg, append([]string{enc, dec}, sel...)); err != nil {
			t.Fatalf("decrypt %v: %s", sel, err.Error())
		}
		got, _ := os.ReadFile(dec)
		if !bytes.Equal(got, plain) {
			t.Errorf("decrypt %v: Bytes mismatch", sel)
		}
	}

	// a different key does not decrypt
	runEncrypt(cfg, []string{in, enc})
	runDecrypt(cfg, []string{"--key_name", "far", enc, dec})
	if got, _ := os.ReadFile(dec); bytes.Equal(got, plain) {
		t.Errorf("decrypting with the wrong key reproduced the plaintext")
	}
}

func TestVerbErrors(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "plain.wem")
	os.WriteFile(in, []byte("not a container"), 0644)

	var usageErr usageError
	if err := runEncrypt(cfg, []string{in}); !errors.As(err, &usageErr) {
		t.Errorf("missing output: expected a usage error, got %v", err)
	}
	if err := runDecrypt(cfg, []string{in, "a", "b"}); !errors.As(err, &usageErr) {
		t.Errorf("extra argument: expected a usage error, got %v", err)
	}
	if err := runDecrypt(cfg, []string{in, filepath.Join(dir, "out.wem")}); !errors.Is(err, fsgc.ErrNotFSGC) {
		t.Errorf("expected ErrNotFSGC, got %v", err)
	}
	if err := runDecrypt(cfg, []string{"--key_name", "t9", in, filepath.Join(dir, "out.wem")}); !errors.Is(err, keyring.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
	if err := runEncrypt(cfg, []string{in, in}); !errors.Is(err, fsgc.ErrSameFile) {
		t.Errorf("encrypt onto itself: expected ErrSameFile, got %v", err)
	}
	if err := runDecrypt(cfg, []string{"--force", in, in}); !errors.Is(err, fsgc.ErrSameFile) {
		t.Errorf("decrypt onto itself: expected ErrSameFile, got %v", err)
	}
	if got, _ := os.ReadFile(in); string(got) != "not a container" {
		t.Errorf("input modified by a refused transform: %q", got)
	}
	if err := runBatch(cfg, []string{"encrypt", dir, filepath.Join(dir, "enc")}); !errors.Is(err, fsgc.ErrOutputInsideInput) {
		t.Errorf("batch into the input tree: expected ErrOutputInsideInput, got %v", err)
	}
	if err := runBatch(cfg, []string{"rot13", dir, dir}); !errors.As(err, &usageErr) {
		t.Errorf("bad direction: expected a usage error, got %v", err)
	}
}

func TestBatchVerb(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	in := filepath.Join(root, "in")
	os.MkdirAll(filepath.Join(in, "dlc"), 0755)
	files := map[string][]byte{
		"a.wem":     []byte("first track"),
		"dlc/b.wem": bytes.Repeat([]byte{0xAB}, 333),
	}
	for name, b := range files {
		os.WriteFile(filepath.Join(in, name), b, 0644)
	}

	enc := filepath.Join(root, "enc")
	dec := filepath.Join(root, "dec")
	if err := runBatch(cfg, []string{"encrypt", in, enc}); err != nil {
		t.Fatalf("batch encrypt: %s", err.Error())
	}
	if err := runBatch(cfg, []string{"--workers", "1", "decrypt", enc, dec}); err != nil {
		t.Fatalf("batch decrypt: %s", err.Error())
	}
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dec, name))
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("%s: Bytes mismatch after batch round trip (%v)", name, err)
		}
	}
}
