// Package nvmtasks wires the NVM components together and runs the
// procedures built from them: boot time calibration and firmware updates.
package nvmtasks

import (
	"github.com/BertoldVdb/samnvm/eeprom"
	"github.com/BertoldVdb/samnvm/firmware"
	"github.com/BertoldVdb/samnvm/flash"
	"github.com/BertoldVdb/samnvm/image"
	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/BertoldVdb/samnvm/userpage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrorVerifyFailed = errors.New("staged firmware failed verification")

type Config struct {
	BootloaderSize uint32

	EEPROMBlocks   uint8
	EEPROMPageSize uint8
}

func DefaultConfig() Config {
	up := userpage.DefaultConfig()

	return Config{
		BootloaderSize: up.BootloaderSize,
		EEPROMBlocks:   up.EEPROMBlocks,
		EEPROMPageSize: up.EEPROMPageSize,
	}
}

type State int

const (
	StateIdle State = iota
	StateWriting
	StateBootloaderMirrored
	StateVerified
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateBootloaderMirrored:
		return "bootloader mirrored"
	case StateVerified:
		return "verified"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

type NVMTasks struct {
	nvm      *nvmctrl.NVM
	flash    *flash.Flash
	userPage *userpage.UserPage
	eeprom   *eeprom.EEPROM
	firmware *firmware.Firmware

	cfg   Config
	log   logrus.FieldLogger
	state State
}

func debugFunc(log logrus.FieldLogger, component string) func(format string, params ...any) {
	return log.WithField("component", component).Debugf
}

func New(nvm *nvmctrl.NVM, cfg Config, log logrus.FieldLogger) (*NVMTasks, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if nvm.LogFunc == nil {
		nvm.LogFunc = debugFunc(log, "nvm")
	}

	t := &NVMTasks{
		nvm:      nvm,
		flash:    flash.New(nvm),
		userPage: userpage.New(nvm),
		cfg:      cfg,
		log:      log,
	}
	t.userPage.LogFunc = debugFunc(log, "userpage")

	if err := t.open(); err != nil {
		return nil, err
	}

	return t, nil
}

/* The EEPROM size lives in the user page, everything behind it depends on it */
func (t *NVMTasks) open() error {
	var page userpage.Page
	if err := t.userPage.Read(&page); err != nil {
		return errors.Wrap(err, "read user page")
	}

	var blocks, psz uint8
	if page.Updated() {
		blocks = page.EEPROMBlocks()
		psz = page.EEPROMPageSize()
	} else {
		t.log.Warn("User page not calibrated, EEPROM disabled")
	}

	t.eeprom = eeprom.New(t.flash, blocks, psz)
	t.eeprom.LogFunc = debugFunc(t.log, "eeprom")

	t.firmware = firmware.New(t.flash, t.cfg.BootloaderSize, t.eeprom.SizeAllocated(), t.eeprom)
	t.firmware.LogFunc = debugFunc(t.log, "firmware")

	return nil
}

func (t *NVMTasks) Flash() *flash.Flash {
	return t.flash
}

func (t *NVMTasks) UserPage() *userpage.UserPage {
	return t.userPage
}

func (t *NVMTasks) EEPROM() *eeprom.EEPROM {
	return t.eeprom
}

func (t *NVMTasks) Firmware() *firmware.Firmware {
	return t.firmware
}

func (t *NVMTasks) State() State {
	return t.state
}

func (t *NVMTasks) setState(state State) {
	t.log.WithField("state", state).Debug("Firmware update state")
	t.state = state
}

// Calibrate runs the user page update and reopens the EEPROM if the page
// changed.
func (t *NVMTasks) Calibrate() (bool, error) {
	updated, err := t.userPage.Update(userpage.Config{
		BootloaderSize: t.cfg.BootloaderSize,
		EEPROMBlocks:   t.cfg.EEPROMBlocks,
		EEPROMPageSize: t.cfg.EEPROMPageSize,
	})
	if err != nil {
		return false, errors.Wrap(err, "update user page")
	}

	if !updated {
		return false, nil
	}

	t.log.Info("User page updated")
	return true, t.open()
}

// FirmwareUpdate stages img in the other bank, verifies it against hash and
// activates it. An empty hash is computed from img. progress is called after
// every block and may be nil.
func (t *NVMTasks) FirmwareUpdate(img []byte, hash string, progress func(done int, total int)) (err error) {
	if err := image.Validate(img, t.firmware.Size()); err != nil {
		return err
	}

	if hash == "" {
		hash = image.Digest(img)
	}

	defer func() {
		if err != nil {
			t.setState(StateIdle)
		}
	}()

	secondary := t.firmware.Secondary()

	t.setState(StateWriting)
	blocks := image.Blocks(img, t.flash.BlockSize())
	for i, block := range blocks {
		if err := secondary.WriteBlock(uint32(i)*t.flash.BlockSize(), block); err != nil {
			return errors.Wrapf(err, "write block %d", i)
		}
		if progress != nil {
			progress(i+1, len(blocks))
		}
	}

	if err := secondary.CopyBootloader(); err != nil {
		return errors.Wrap(err, "copy bootloader")
	}
	t.setState(StateBootloaderMirrored)

	ok, err := secondary.Verify(uint32(len(img)), hash)
	if err != nil {
		return errors.Wrap(err, "verify")
	}
	if !ok {
		return ErrorVerifyFailed
	}
	t.setState(StateVerified)

	t.log.WithFields(logrus.Fields{
		"length": len(img),
		"sha1":   hash,
	}).Info("Activating new firmware")

	if err := secondary.Activate(); err != nil {
		return errors.Wrap(err, "activate")
	}
	t.setState(StateActivated)

	return nil
}

type Info struct {
	Bank       uint8
	Calibrated bool
	BootProt   uint8

	FirmwareStart  uint32
	FirmwareSize   uint32
	SecondaryStart uint32

	EEPROMStart     uint32
	EEPROMSize      uint32
	EEPROMAllocated uint32
	EEPROMPageSize  uint32
}

func (t *NVMTasks) Info() (Info, error) {
	var page userpage.Page
	if err := t.userPage.Read(&page); err != nil {
		return Info{}, err
	}

	return Info{
		Bank:            t.flash.Bank(),
		Calibrated:      page.Updated(),
		BootProt:        page.BootProt(),
		FirmwareStart:   t.firmware.Start(),
		FirmwareSize:    t.firmware.Size(),
		SecondaryStart:  t.firmware.Secondary().Start(),
		EEPROMStart:     t.eeprom.Start(),
		EEPROMSize:      t.eeprom.Size(),
		EEPROMAllocated: t.eeprom.SizeAllocated(),
		EEPROMPageSize:  t.eeprom.PageSize(),
	}, nil
}
