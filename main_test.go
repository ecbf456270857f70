package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus/hooks/test"
)

func run(t *testing.T, device string, args ...string) (string, error) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("samnvm"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := parser.Parse(append([]string{"--device", device}, args...))
	if err != nil {
		t.Fatal(err)
	}

	log, _ := test.NewNullLogger()
	var out bytes.Buffer

	a, err := newApp(&cli, log, &out)
	if err != nil {
		t.Fatal(err)
	}
	defer a.sim.Close()

	err = ctx.Run(a)
	return out.String(), err
}

func TestCLIUpdate(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "device.bin")

	if out, err := run(t, device, "calibrate"); err != nil || !strings.Contains(out, "updated") {
		t.Fatal("calibrate:", out, err)
	}
	if out, _ := run(t, device, "calibrate"); !strings.Contains(out, "already") {
		t.Error("Second calibrate:", out)
	}

	img := make([]byte, 20000)
	rand.Read(img)
	path := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(path, img, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, device, "update", path)
	if err != nil {
		t.Fatal("update:", out, err)
	}
	if !strings.Contains(out, "bank 1") {
		t.Error("Unexpected update output:", out)
	}

	/* Bank state is kept in the device file */
	if out, _ := run(t, device, "info"); !strings.Contains(out, "BOOTPROT 13") {
		t.Error("info:", out)
	}

	dump := filepath.Join(dir, "dump.bin")
	if _, err := run(t, device, "dump", "-o", dump); err != nil {
		t.Fatal(err)
	}
	rb, _ := os.ReadFile(dump)
	if len(rb) < len(img) || !bytes.Equal(rb[:len(img)], img) {
		t.Error("Dump does not hold the activated image")
	}

	if _, err := run(t, device, "update", path, "--hash", strings.Repeat("0", 40)); err == nil {
		t.Error("Update with wrong hash succeeded")
	}
}

func TestCLIEEPROM(t *testing.T) {
	device := filepath.Join(t.TempDir(), "device.bin")

	run(t, device, "calibrate")

	if out, err := run(t, device, "eeprom", "write", "126", "48656c6c6f", "--buffered"); err != nil || !strings.Contains(out, "2 page commits") {
		t.Fatal("write:", out, err)
	}

	out, err := run(t, device, "eeprom", "read", "126", "5")
	if err != nil || !strings.Contains(out, "|Hello|") {
		t.Error("read:", out, err)
	}

	if out, err := run(t, device, "eeprom", "check"); err != nil || !strings.Contains(out, "OK") {
		t.Error("check:", out, err)
	}

	run(t, device, "eeprom", "erase")
	if out, _ := run(t, device, "eeprom", "read", "126", "5"); strings.Contains(out, "Hello") {
		t.Error("Data survived erase")
	}
}
