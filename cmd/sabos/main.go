// Command sabos boots the hosted-simulator kernel core: it brings up the
// frame allocator, address spaces, every subsystem package under
// sabos/src, mounts a FAT volume and /proc, wires the syscall dispatcher,
// and spawns an init task that exercises the boot sequence end to end.
// There is no real UEFI firmware or AMD64 bootloader here (spec §1 names
// both external collaborators) -- this is the "post-ExitBootServices"
// half of boot, the part the hosted simulator can actually run.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sabos/src/console"
	"sabos/src/defs"
	"sabos/src/fat"
	"sabos/src/futex"
	"sabos/src/inet"
	"sabos/src/intr"
	"sabos/src/ipc"
	"sabos/src/klog"
	"sabos/src/mem"
	"sabos/src/oommsg"
	"sabos/src/pipe"
	"sabos/src/procfs"
	"sabos/src/sched"
	"sabos/src/trap"
	"sabos/src/vfs"
	"sabos/src/vm"
)

/// config is the flat boot configuration, parsed from flags the way the
/// teacher's mkfs/chentry commands take theirs from bare os.Args -- a
/// kernel entry point has no use for a third-party CLI framework.
type config struct {
	frames    int
	diskImage string
	sectors   uint64
	mac       string
	ip        string
	tick      time.Duration
}

func parseFlags() config {
	var cfg config
	flag.IntVar(&cfg.frames, "frames", 4096, "number of physical frames the frame allocator manages")
	flag.StringVar(&cfg.diskImage, "disk", "", "path to a prebuilt FAT image (empty: format a blank in-memory volume)")
	flag.Uint64Var(&cfg.sectors, "sectors", 2048, "sector count for a freshly formatted volume when -disk is empty")
	flag.StringVar(&cfg.mac, "mac", "02:00:00:00:00:01", "interface hardware address")
	flag.StringVar(&cfg.ip, "ip", "10.0.2.15", "interface protocol address")
	flag.DurationVar(&cfg.tick, "tick", time.Millisecond, "wall-clock period of one scheduler tick")
	flag.Parse()
	return cfg
}

func parseMac(s string) (inet.MAC_t, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return inet.MAC_t{}, fmt.Errorf("mac %q: want 6 colon-separated octets", s)
	}
	var mac inet.MAC_t
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return inet.MAC_t{}, fmt.Errorf("mac %q: %w", s, err)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

func parseIp(s string) (inet.IP_t, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return inet.IP_t{}, fmt.Errorf("ip %q: want 4 dot-separated octets", s)
	}
	var ip inet.IP_t
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return inet.IP_t{}, fmt.Errorf("ip %q: %w", s, err)
		}
		ip[i] = byte(v)
	}
	return ip, nil
}

func loadOrFormatFat(cfg config) (*fat.Fs_t, error) {
	var disk *fat.MemDisk_t
	if cfg.diskImage == "" {
		disk = fat.FormatFat16(cfg.sectors)
	} else {
		img, err := os.ReadFile(cfg.diskImage)
		if err != nil {
			return nil, fmt.Errorf("reading disk image %s: %w", cfg.diskImage, err)
		}
		disk = fat.NewMemDiskFromImage(img)
	}
	fs, ferr := fat.NewFs(disk)
	if ferr != 0 {
		return nil, fmt.Errorf("mounting fat volume: %s", ferr)
	}
	return fs, nil
}

func main() {
	cfg := parseFlags()

	frames := mem.NewFrameAllocator(cfg.frames)
	kas := vm.NewKernelSpace(frames)
	sc := sched.New()

	vfsRoot := vfs.New()
	var netState *inet.State_t
	var procfsFs *procfs.Fs_t

	// Bring up the FAT mount, the netstack and /proc concurrently: each
	// is independent of the others and only the frame allocator and
	// scheduler constructed just above are shared state, matching the
	// "frame allocator, VFS mount, net stack" concurrent bring-up this
	// boot sequence is built around.
	var g errgroup.Group
	g.Go(func() error {
		fatFs, err := loadOrFormatFat(cfg)
		if err != nil {
			return err
		}
		vfsRoot.Mount("/", fatFs)
		return nil
	})
	g.Go(func() error {
		mac, err := parseMac(cfg.mac)
		if err != nil {
			return err
		}
		ip, err := parseIp(cfg.ip)
		if err != nil {
			return err
		}
		netState = inet.NewState(mac, ip, 256)
		return nil
	})
	g.Go(func() error {
		procfsFs = procfs.New(frames, sc)
		return nil
	})
	if err := g.Wait(); err != nil {
		klog.Panicf("boot: subsystem bring-up failed: %v", err)
	}
	vfsRoot.Mount("/proc", procfsFs)

	if err := vfsRoot.CreateDir("/bin"); err != 0 && err != defs.AlreadyExists {
		klog.Panicf("boot: creating /bin: %s", err)
	}

	pipes := pipe.NewTable(frames)
	ipcRouter := ipc.NewRouter(256)
	futexes := futex.NewTable(256)
	con := console.New(frames)
	d := trap.New(sc, kas, frames, vfsRoot, pipes, ipcRouter, futexes, con, netState)

	const echoPath = "/bin/echo"
	echoElf := buildStubElf(0x400000)
	if err := vfsRoot.CreateFile(echoPath); err != 0 {
		klog.Panicf("boot: creating %s: %s", echoPath, err)
	}
	if err := vfsRoot.WriteFile(echoPath, echoElf); err != 0 {
		klog.Panicf("boot: writing %s: %s", echoPath, err)
	}
	d.RegisterProgram(echoPath, echoProgram(frames))

	timer := intr.NewTimer(sc, cfg.tick)
	timer.Start()

	stopOom := make(chan struct{})
	go drainOom(procfsFs, stopOom)

	done := make(chan struct{})
	initElf := buildStubElf(0x500000)
	if _, err := sc.SpawnUser("/bin/init", initElf, nil, nil, frames, kas, func(self *sched.Task_t) {
		initProgram(d, self, frames, done)
	}); err != 0 {
		klog.Panicf("boot: spawning init: %s", err)
	}

	sc.Start()
	<-done

	close(stopOom)
	timer.Stop()
	klog.Infof("boot: shutdown complete")
}

// drainOom logs every out-of-memory notification and records it in
// /proc/meminfo's running counter, the hosted stand-in for a kernel
// panic screen dumping allocator state before it gives up.
func drainOom(procfsFs *procfs.Fs_t, stop <-chan struct{}) {
	for {
		select {
		case m := <-oommsg.OomCh:
			klog.Errf("out of memory: need %d frames", m.Need)
			procfsFs.RecordOom()
			if m.Resume != nil {
				m.Resume <- false
			}
		case <-stop:
			return
		}
	}
}
