package patch

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/portguard/portguard/internal/pgconfig"
)

// buildMinimalELF assembles the smallest ELF64 LSB file debug/elf will
// parse that carries a single named section holding sectionData. It exists
// purely so this package's tests can exercise locateSection/Stamp without
// a real cross-compiled client executable on hand.
func buildMinimalELF(t *testing.T, sectionData []byte) []byte {
	t.Helper()

	const ehsize = 64
	const shentsize = 64

	dataOff := ehsize
	shstrtab := []byte("\x00.portguard\x00.shstrtab\x00")
	shstrtabOff := dataOff + len(sectionData)
	shoff := shstrtabOff + len(shstrtab)

	buf := make([]byte, shoff+3*shentsize)

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)            // e_type = ET_EXEC
	le.PutUint16(buf[18:], 62)           // e_machine = EM_X86_64
	le.PutUint32(buf[20:], 1)            // e_version
	le.PutUint64(buf[24:], 0)            // e_entry
	le.PutUint64(buf[32:], 0)            // e_phoff
	le.PutUint64(buf[40:], uint64(shoff)) // e_shoff
	le.PutUint32(buf[48:], 0)            // e_flags
	le.PutUint16(buf[52:], ehsize)       // e_ehsize
	le.PutUint16(buf[54:], 0)            // e_phentsize
	le.PutUint16(buf[56:], 0)            // e_phnum
	le.PutUint16(buf[58:], shentsize)    // e_shentsize
	le.PutUint16(buf[60:], 3)            // e_shnum
	le.PutUint16(buf[62:], 2)            // e_shstrndx

	copy(buf[dataOff:], sectionData)
	copy(buf[shstrtabOff:], shstrtab)

	writeShdr := func(idx int, nameOff uint32, typ uint32, off, size uint64) {
		base := shoff + idx*shentsize
		le.PutUint32(buf[base:], nameOff)
		le.PutUint32(buf[base+4:], typ)
		le.PutUint64(buf[base+16:], off)
		le.PutUint64(buf[base+24:], size)
		le.PutUint64(buf[base+40:], 1) // sh_addralign
	}
	writeShdr(0, 0, 0, 0, 0) // NULL section
	writeShdr(1, 1, 1 /* SHT_PROGBITS */, uint64(dataOff), uint64(len(sectionData)))
	writeShdr(2, 12 /* offset of ".shstrtab" in shstrtab */, 3 /* SHT_STRTAB */, uint64(shstrtabOff), uint64(len(shstrtab)))

	return buf
}

func sampleConfig() pgconfig.ClientConfig {
	var c pgconfig.ClientConfig
	c.ServerAddr = "tunnel.example.com:8022"
	c.Target = pgconfig.Target{Addr: "127.0.0.1:9000"}
	c.Reverse = false
	for i := range c.ServerPub {
		c.ServerPub[i] = byte(i)
	}
	c.ClientKey = pgconfig.ClientKey{Private: make([]byte, 32)}
	for i := range c.ClientKey.Private {
		c.ClientKey.Private[i] = byte(255 - i)
	}
	return c
}

func TestStampAndReadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	unpatched := filepath.Join(dir, "unpatched")
	elfBytes := buildMinimalELF(t, make([]byte, pgconfig.ConfBufLen))
	if err := os.WriteFile(unpatched, elfBytes, 0o755); err != nil {
		t.Fatalf("write unpatched: %v", err)
	}

	cfg := sampleConfig()
	out := filepath.Join(dir, "patched")
	if err := Generate(unpatched, out, cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}

	got, err := ReadConfig(out)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if got.ServerAddr != cfg.ServerAddr || got.Target != cfg.Target {
		t.Errorf("got %+v, want %+v", got, cfg)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("output permissions = %v, want 0755", info.Mode().Perm())
	}
}

func TestModifyKeypairOnlyChangesKey(t *testing.T) {
	dir := t.TempDir()
	unpatched := filepath.Join(dir, "unpatched")
	if err := os.WriteFile(unpatched, buildMinimalELF(t, make([]byte, pgconfig.ConfBufLen)), 0o755); err != nil {
		t.Fatalf("write unpatched: %v", err)
	}

	cfg := sampleConfig()
	patched := filepath.Join(dir, "patched")
	if err := Generate(unpatched, patched, cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}

	newKey := pgconfig.ClientKey{HasKeypass: true, Private: make([]byte, 48)}
	for i := range newKey.Private {
		newKey.Private[i] = byte(i)
	}
	rekeyed := filepath.Join(dir, "rekeyed")
	if err := ModifyKeypair(patched, rekeyed, newKey); err != nil {
		t.Fatalf("modify keypair: %v", err)
	}

	got, err := ReadConfig(rekeyed)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if got.ServerAddr != cfg.ServerAddr || got.Target != cfg.Target {
		t.Errorf("non-key fields changed: got %+v, want server_addr/target from %+v", got, cfg)
	}
	if !got.ClientKey.HasKeypass {
		t.Error("HasKeypass not updated")
	}
}

func TestCloneOverlaysDnaConfigOntoEgg(t *testing.T) {
	dir := t.TempDir()
	dnaUnpatched := filepath.Join(dir, "dna-unpatched")
	eggUnpatched := filepath.Join(dir, "egg-unpatched")
	if err := os.WriteFile(dnaUnpatched, buildMinimalELF(t, make([]byte, pgconfig.ConfBufLen)), 0o755); err != nil {
		t.Fatalf("write dna unpatched: %v", err)
	}
	if err := os.WriteFile(eggUnpatched, buildMinimalELF(t, make([]byte, pgconfig.ConfBufLen)), 0o755); err != nil {
		t.Fatalf("write egg unpatched: %v", err)
	}

	dnaCfg := sampleConfig()
	dna := filepath.Join(dir, "dna")
	if err := Generate(dnaUnpatched, dna, dnaCfg); err != nil {
		t.Fatalf("generate dna: %v", err)
	}

	cloned := filepath.Join(dir, "cloned")
	if err := Clone(dna, eggUnpatched, cloned); err != nil {
		t.Fatalf("clone: %v", err)
	}

	got, err := ReadConfig(cloned)
	if err != nil {
		t.Fatalf("read cloned config: %v", err)
	}
	if got.ServerAddr != dnaCfg.ServerAddr || got.Target != dnaCfg.Target {
		t.Errorf("cloned config = %+v, want %+v", got, dnaCfg)
	}
}

func TestStampFailsWhenSectionMissing(t *testing.T) {
	dir := t.TempDir()
	unpatched := filepath.Join(dir, "no-section")
	// Build an ELF with only the NULL and .shstrtab sections, no .portguard.
	elfBytes := buildMinimalELF(t, make([]byte, pgconfig.ConfBufLen))
	// Corrupt the name offset of section 1 so it no longer reads ".portguard".
	le := binary.LittleEndian
	shoffPos := 40
	shoff := le.Uint64(elfBytes[shoffPos:])
	le.PutUint32(elfBytes[int(shoff)+64:], 12) // point section 1's name at ".shstrtab" instead
	if err := os.WriteFile(unpatched, elfBytes, 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := filepath.Join(dir, "out")
	err := Generate(unpatched, out, sampleConfig())
	if err == nil {
		t.Fatal("expected error when reserved section is absent")
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Error("output file should not exist after a failed stamp")
	}
}
