package sysmon

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"monagent/pkg/section"
)

// CheckMK identifies the agent and the host it runs on.
func CheckMK(version string) section.Producer {
	return section.ProducerFunc(func(w io.Writer) error {
		info, err := host.Info()
		if err != nil {
			return fmt.Errorf("failed to get host info: %w", err)
		}
		return writeCheckMK(w, version, info)
	})
}

func writeCheckMK(w io.Writer, version string, info *host.InfoStat) error {
	_, err := fmt.Fprintf(w, "Version: %s\nAgentOS: %s\nHostname: %s\nArchitecture: %s\nPlatform: %s %s\n",
		version, info.OS, info.Hostname, info.KernelArch, info.Platform, info.PlatformVersion)
	return err
}

// Uptime writes the seconds since boot.
func Uptime() section.Producer {
	return section.ProducerFunc(func(w io.Writer) error {
		uptime, err := host.Uptime()
		if err != nil {
			return fmt.Errorf("failed to get uptime: %w", err)
		}
		_, err = fmt.Fprintf(w, "%d\n", uptime)
		return err
	})
}

// Memory writes physical and swap memory in kB, one "Key: value kB" line each.
func Memory() section.Producer {
	return section.ProducerFunc(func(w io.Writer) error {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return fmt.Errorf("failed to get memory: %w", err)
		}
		swap, err := mem.SwapMemory()
		if err != nil {
			return fmt.Errorf("failed to get swap: %w", err)
		}
		return writeMemory(w, vm, swap)
	})
}

func writeMemory(w io.Writer, vm *mem.VirtualMemoryStat, swap *mem.SwapMemoryStat) error {
	_, err := fmt.Fprintf(w, "MemTotal: %d kB\nMemFree: %d kB\nMemAvailable: %d kB\nSwapTotal: %d kB\nSwapFree: %d kB\n",
		vm.Total/1024, vm.Free/1024, vm.Available/1024, swap.Total/1024, swap.Free/1024)
	return err
}

// CPU writes the load averages followed by the number of logical CPUs.
func CPU() section.Producer {
	return section.ProducerFunc(func(w io.Writer) error {
		avg, err := load.Avg()
		if err != nil {
			return fmt.Errorf("failed to get load average: %w", err)
		}
		count, err := cpu.Counts(true)
		if err != nil {
			return fmt.Errorf("failed to count cpus: %w", err)
		}
		return writeCPU(w, avg, count)
	})
}

func writeCPU(w io.Writer, avg *load.AvgStat, count int) error {
	_, err := fmt.Fprintf(w, "%.2f %.2f %.2f %d\n", avg.Load1, avg.Load5, avg.Load15, count)
	return err
}

// DF writes one line per mounted filesystem:
//
//	device fstype total_kB used_kB free_kB used% mountpoint
//
// Filesystems of an excluded type and filesystems that cannot be queried are skipped.
func DF(excludeFSTypes []string) section.Producer {
	excluded := make(map[string]bool, len(excludeFSTypes))
	for _, t := range excludeFSTypes {
		excluded[t] = true
	}

	return section.ProducerFunc(func(w io.Writer) error {
		partitions, err := disk.Partitions(false)
		if err != nil {
			return fmt.Errorf("failed to list partitions: %w", err)
		}

		for _, p := range partitions {
			if excluded[p.Fstype] {
				continue
			}
			usage, err := disk.Usage(p.Mountpoint)
			if err != nil {
				slog.Debug("Skipping filesystem", "mountpoint", p.Mountpoint, "error", err)
				continue
			}
			if err := writeDFLine(w, p, usage); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeDFLine(w io.Writer, p disk.PartitionStat, usage *disk.UsageStat) error {
	_, err := fmt.Fprintf(w, "%s %s %d %d %d %.0f%% %s\n",
		p.Device, p.Fstype, usage.Total/1024, usage.Used/1024, usage.Free/1024, usage.UsedPercent, p.Mountpoint)
	return err
}

// PSSeparator delimits the fields of the ps section.
const PSSeparator = '\t'

// PS lists processes, one per line:
//
//	(user,vsz_kB,rss_kB,cpu%)<TAB>command line
type PS struct {
	Sort  SortColumn
	Limit int
	// List defaults to ListProcesses.
	List func() ([]*ProcessInfo, error)
}

func (p *PS) Produce(w io.Writer) error {
	processes, err := p.processes()
	if err != nil {
		return err
	}

	for _, proc := range processes {
		command := proc.Cmdline
		if command == "" {
			command = proc.Name
		}
		command = strings.NewReplacer("\n", " ", string(PSSeparator), " ").Replace(command)
		if _, err := fmt.Fprintf(w, "(%s,%d,%d,%.1f)%c%s\n",
			proc.Username, proc.VMSKB, proc.RSSKB, proc.CPUPercent, PSSeparator, command); err != nil {
			return err
		}
	}
	return nil
}

func (p *PS) processes() ([]*ProcessInfo, error) {
	list := p.List
	if list == nil {
		list = ListProcesses
	}
	processes, err := list()
	if err != nil {
		return nil, err
	}

	SortProcesses(processes, p.Sort, SortDesc)
	if p.Limit > 0 && len(processes) > p.Limit {
		processes = processes[:p.Limit]
	}
	return processes, nil
}

// Processes returns a group with a [summary] and a [top] subsection. The top list holds
// at most limit processes (5 if limit is not positive).
func Processes(list func() ([]*ProcessInfo, error), limit int, logger section.Logger) *section.Group {
	if list == nil {
		list = ListProcesses
	}
	if limit <= 0 {
		limit = 5
	}

	var snapshot []*ProcessInfo
	summary := section.ProducerFunc(func(w io.Writer) error {
		var err error
		snapshot, err = list()
		if err != nil {
			snapshot = nil
			return err
		}
		var threads int64
		for _, p := range snapshot {
			threads += int64(p.NumThreads)
		}
		_, err = fmt.Fprintf(w, "processes %d\nthreads %d\n", len(snapshot), threads)
		return err
	})

	top := section.ProducerFunc(func(w io.Writer) error {
		if snapshot == nil {
			return fmt.Errorf("no process snapshot")
		}
		ps := &PS{Sort: SortByCPU, Limit: limit, List: func() ([]*ProcessInfo, error) {
			return snapshot, nil
		}}
		processes, err := ps.processes()
		if err != nil {
			return err
		}
		for _, p := range processes {
			if _, err := fmt.Fprintf(w, "%d %.1f %d %s\n", p.PID, p.CPUPercent, p.RSSKB, p.Name); err != nil {
				return err
			}
		}
		return nil
	})

	return section.NewGroup(
		section.New("summary", summary, logger),
		section.New("top", top, logger),
	)
}
