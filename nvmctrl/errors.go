package nvmctrl

import (
	"github.com/pkg/errors"
)

var (
	ErrorTimeout = errors.New("NVM controller did not become ready")
	ErrorAddress = errors.New("NVM address error")
	ErrorProgram = errors.New("NVM programming error")
	ErrorLock    = errors.New("NVM region is locked")
	ErrorCommand = errors.New("NVM command rejected")
)

func flagError(flags IntFlag) error {
	switch {
	case flags&IntFlagAddressError > 0:
		return ErrorAddress
	case flags&IntFlagProgramError > 0:
		return ErrorProgram
	case flags&IntFlagLockError > 0:
		return ErrorLock
	case flags&IntFlagCommandError > 0:
		return ErrorCommand
	}
	return nil
}
