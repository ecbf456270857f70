package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BertoldVdb/samnvm/image"
	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/BertoldVdb/samnvm/nvmsim"
	"github.com/BertoldVdb/samnvm/nvmtasks"
	"github.com/BertoldVdb/samnvm/userpage"
	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	colorOK    = color.New(color.FgGreen, color.Bold)
	colorFail  = color.New(color.FgRed, color.Bold)
	colorLabel = color.New(color.FgCyan)
)

type app struct {
	sim   *nvmsim.Sim
	tasks *nvmtasks.NVMTasks
	log   logrus.FieldLogger
	out   io.Writer
}

func (a *app) field(label string, format string, params ...any) {
	colorLabel.Fprintf(a.out, "%-18s", label)
	fmt.Fprintf(a.out, format+"\n", params...)
}

type InfoCmd struct{}

func (c *InfoCmd) Run(a *app) error {
	info, err := a.tasks.Info()
	if err != nil {
		return err
	}

	a.field("Bank", "%d", info.Bank)
	if info.Calibrated {
		a.field("User page", "%s (BOOTPROT %d)", colorOK.Sprint("calibrated"), info.BootProt)
	} else {
		a.field("User page", "%s", colorFail.Sprint("not calibrated"))
	}
	a.field("Firmware", "%08x, %d bytes", info.FirmwareStart, info.FirmwareSize)
	a.field("Secondary bank", "%08x", info.SecondaryStart)
	a.field("EEPROM", "%08x, %d bytes in %d bytes of flash, %d byte pages",
		info.EEPROMStart, info.EEPROMSize, info.EEPROMAllocated, info.EEPROMPageSize)
	return nil
}

type CalibrateCmd struct{}

func (c *CalibrateCmd) Run(a *app) error {
	updated, err := a.tasks.Calibrate()
	if err != nil {
		return err
	}

	if updated {
		colorOK.Fprintln(a.out, "User page updated")
	} else {
		fmt.Fprintln(a.out, "User page already up to date")
	}
	return nil
}

type UpdateCmd struct {
	Image string `arg:"" type:"existingfile" help:"Firmware image, raw binary or Intel HEX."`
	Hash  string `help:"Expected SHA-1 of the image, computed from the file when empty."`
}

func (c *UpdateCmd) Run(a *app) error {
	fw := a.tasks.Firmware()

	img, err := image.Load(c.Image, fw.Start())
	if err != nil {
		return err
	}

	err = a.tasks.FirmwareUpdate(img, c.Hash, func(done int, total int) {
		fmt.Fprintf(a.out, "\rWriting block %d/%d", done, total)
		if done == total {
			fmt.Fprintln(a.out)
		}
	})
	if errors.Is(err, nvmtasks.ErrorVerifyFailed) {
		colorFail.Fprintln(a.out, "Verification failed, bank not activated")
	}
	if err != nil {
		return err
	}

	colorOK.Fprintf(a.out, "Activated %d bytes, now running from bank %d\n", len(img), a.tasks.Flash().Bank())
	return nil
}

type UserPageCmd struct{}

func (c *UserPageCmd) Run(a *app) error {
	var page userpage.Page
	if err := a.tasks.UserPage().Read(&page); err != nil {
		return err
	}

	for i := 0; i < userpage.Words; i += 8 {
		colorLabel.Fprintf(a.out, "%3d:", i)
		for k := 0; k < 8; k++ {
			fmt.Fprintf(a.out, " %08x", page.Word(i+k))
		}
		fmt.Fprintln(a.out)
	}

	a.field("Sentinel", "%v", page.Updated())
	a.field("BOOTPROT", "%d", page.BootProt())
	a.field("EEPROM blocks", "%d", page.EEPROMBlocks())
	a.field("EEPROM page size", "%d", 4<<page.EEPROMPageSize())
	return nil
}

type DumpCmd struct {
	Output    string `short:"o" default:"-" help:"Output file, - for stdout."`
	Hex       bool   `help:"Write Intel HEX instead of binary."`
	Secondary bool   `help:"Dump the firmware staged in the other bank."`
}

func (c *DumpCmd) Run(a *app) error {
	fw := a.tasks.Firmware()

	start := fw.Start()
	if c.Secondary {
		start += fw.Secondary().Start()
	}

	buf := make([]byte, fw.Size())
	if _, err := a.tasks.Flash().Read(start, buf); err != nil {
		return err
	}

	w := a.out
	if c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if c.Hex {
		/* Addresses as the firmware sees them once it runs */
		return image.DumpHex(w, fw.Start(), buf)
	}

	_, err := w.Write(buf)
	return err
}

type EEPROMReadCmd struct {
	Offset uint32 `arg:""`
	Length uint32 `arg:""`
}

func (c *EEPROMReadCmd) Run(a *app) error {
	buf := make([]byte, c.Length)
	if err := a.tasks.EEPROM().Read(c.Offset, buf); err != nil {
		return err
	}

	fmt.Fprint(a.out, hex.Dump(buf))
	return nil
}

type EEPROMWriteCmd struct {
	Offset   uint32 `arg:""`
	Data     string `arg:"" help:"Bytes to write, as hex."`
	Buffered bool   `help:"Stage the data and flush once."`
}

func (c *EEPROMWriteCmd) Run(a *app) error {
	data, err := hex.DecodeString(c.Data)
	if err != nil {
		return errors.Wrap(err, "data")
	}

	e := a.tasks.EEPROM()
	if c.Buffered {
		if err := e.PrepareWrite(); err != nil {
			return err
		}
	}

	if err := e.Write(c.Offset, data); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Wrote %d bytes, %d page commits\n", len(data), e.Commits())
	return nil
}

type EEPROMEraseCmd struct{}

func (c *EEPROMEraseCmd) Run(a *app) error {
	if err := a.tasks.EEPROM().Erase(); err != nil {
		return err
	}

	colorOK.Fprintln(a.out, "EEPROM erased")
	return nil
}

type EEPROMCheckCmd struct{}

func (c *EEPROMCheckCmd) Run(a *app) error {
	if err := a.tasks.EEPROM().Check(); err != nil {
		colorFail.Fprintln(a.out, err)
		return err
	}

	colorOK.Fprintln(a.out, "EEPROM OK")
	return nil
}

type CLI struct {
	Device     string        `short:"d" default:"samnvm.bin" type:"path" help:"Backing file of the simulated device."`
	Timeout    time.Duration `default:"5s" help:"Maximum time to wait for the NVM controller, 0 waits forever."`
	Bootloader uint32        `default:"16384" help:"Size of the bootloader in bytes."`
	Verbose    bool          `short:"v" help:"Enable debug logging."`

	Info      InfoCmd      `cmd:"" help:"Show the flash layout."`
	Calibrate CalibrateCmd `cmd:"" help:"Check and repair the user page."`
	Update    UpdateCmd    `cmd:"" help:"Write, verify and activate a firmware image."`
	UserPage  UserPageCmd  `cmd:"" name:"userpage" help:"Show the user page."`
	Dump      DumpCmd      `cmd:"" help:"Dump the firmware area."`

	EEPROM struct {
		Read  EEPROMReadCmd  `cmd:"" help:"Read bytes from the EEPROM."`
		Write EEPROMWriteCmd `cmd:"" help:"Write bytes to the EEPROM."`
		Erase EEPROMEraseCmd `cmd:"" help:"Erase the whole EEPROM."`
		Check EEPROMCheckCmd `cmd:"" help:"Validate the EEPROM blocks."`
	} `cmd:"" name:"eeprom" help:"EEPROM emulation."`
}

func newApp(cli *CLI, log *logrus.Logger, out io.Writer) (*app, error) {
	geo := nvmctrl.SAMD51J19

	sim, err := nvmsim.Open(cli.Device, geo)
	if err != nil {
		return nil, err
	}
	sim.OnReset = func() {
		log.Info("Device reset")
	}

	nvm := nvmctrl.New(sim, geo)
	nvm.Timeout = cli.Timeout

	cfg := nvmtasks.DefaultConfig()
	cfg.BootloaderSize = cli.Bootloader

	tasks, err := nvmtasks.New(nvm, cfg, log)
	if err != nil {
		sim.Close()
		return nil, err
	}

	return &app{
		sim:   sim,
		tasks: tasks,
		log:   log,
		out:   out,
	}, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("samnvm"),
		kong.Description("Manage the NVM of a simulated SAMD51 device."),
		kong.UsageOnError())

	log := logrus.New()
	if cli.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	a, err := newApp(&cli, log, os.Stdout)
	if err != nil {
		log.Fatalln(err)
	}

	err = ctx.Run(a)
	if cerr := a.sim.Close(); err == nil {
		err = cerr
	}
	ctx.FatalIfErrorf(err)
}
