package nvmsim

import (
	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Open maps a file as backing store so the simulated device survives
// restarts. A new or empty file is formatted.
func Open(path string, geo nvmctrl.Geometry) (*Sim, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open device file")
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrap(err, "stat device file")
	}

	size := memSize(geo)
	fresh := st.Size == 0
	if !fresh && st.Size != int64(size) {
		return nil, errors.Errorf("device file has size %d, expected %d", st.Size, size)
	}

	if fresh {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, errors.Wrap(err, "resize device file")
		}
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "map device file")
	}

	s := newSim(geo, mem)
	s.unmap = func() error {
		return unix.Munmap(mem)
	}

	if fresh {
		s.Format()
	}

	return s, nil
}
