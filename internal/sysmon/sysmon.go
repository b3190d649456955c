// Package sysmon collects host metrics with gopsutil and renders them as agent sections.
package sysmon

import (
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo represents a system process with metrics
type ProcessInfo struct {
	PID        int32
	Name       string
	Cmdline    string
	Username   string
	CPUPercent float64
	RSSKB      uint64
	VMSKB      uint64
	CreateTime time.Time
	PPID       int32
	NumThreads int32
}

// SortColumn defines available sort options
type SortColumn string

const (
	SortByCPU    SortColumn = "cpu"
	SortByMemory SortColumn = "memory"
	SortByPID    SortColumn = "pid"
	SortByName   SortColumn = "name"
)

// SortOrder defines sort direction
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortColumn validates a sort column from configuration. Empty means cpu.
func ParseSortColumn(s string) (SortColumn, error) {
	switch SortColumn(s) {
	case "":
		return SortByCPU, nil
	case SortByCPU, SortByMemory, SortByPID, SortByName:
		return SortColumn(s), nil
	}
	return "", fmt.Errorf("unknown sort column %q", s)
}

// ListProcesses returns all processes visible to the agent.
func ListProcesses() ([]*ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to get processes: %w", err)
	}

	infos := make([]*ProcessInfo, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, fetchProcessInfo(p))
	}
	return infos, nil
}

// fetchProcessInfo retrieves information for a single process. Every field is best
// effort: short-lived processes vanish and others are not readable by the agent user.
func fetchProcessInfo(p *process.Process) *ProcessInfo {
	info := &ProcessInfo{
		PID: p.Pid,
	}

	if name, err := p.Name(); err == nil {
		info.Name = name
	}

	if cmdline, err := p.Cmdline(); err == nil {
		info.Cmdline = cmdline
	}

	if username, err := p.Username(); err == nil {
		info.Username = username
	}

	if cpuPercent, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpuPercent
	}

	if memInfo, err := p.MemoryInfo(); err == nil {
		info.RSSKB = memInfo.RSS / 1024
		info.VMSKB = memInfo.VMS / 1024
	}

	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = time.Unix(0, createTime*int64(time.Millisecond))
	}

	if ppid, err := p.Ppid(); err == nil {
		info.PPID = ppid
	}

	if numThreads, err := p.NumThreads(); err == nil {
		info.NumThreads = numThreads
	}

	return info
}

// SortProcesses sorts the process list by the specified column and order
func SortProcesses(processes []*ProcessInfo, column SortColumn, order SortOrder) {
	sort.SliceStable(processes, func(i, j int) bool {
		a, b := processes[i], processes[j]
		if order == SortDesc {
			a, b = b, a
		}

		switch column {
		case SortByMemory:
			return a.RSSKB < b.RSSKB
		case SortByPID:
			return a.PID < b.PID
		case SortByName:
			return a.Name < b.Name
		default:
			return a.CPUPercent < b.CPUPercent
		}
	})
}
