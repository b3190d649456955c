package sysmon

import (
	"os"
	"testing"
)

func TestListProcesses(t *testing.T) {
	t.Parallel()
	processes, err := ListProcesses()
	if err != nil {
		t.Fatalf("ListProcesses failed: %v", err)
	}

	if len(processes) == 0 {
		t.Fatal("Expected at least one process")
	}

	self := int32(os.Getpid())
	found := false
	for _, p := range processes {
		if p.PID == self {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Own process %d not in process list", self)
	}
}

func TestSortProcessesByCPU(t *testing.T) {
	t.Parallel()
	processes := []*ProcessInfo{
		{PID: 1, CPUPercent: 10.0},
		{PID: 2, CPUPercent: 50.0},
		{PID: 3, CPUPercent: 5.0},
	}

	// Test descending sort
	SortProcesses(processes, SortByCPU, SortDesc)
	if processes[0].PID != 2 || processes[1].PID != 1 || processes[2].PID != 3 {
		t.Errorf("CPU descending sort failed: got PIDs %d, %d, %d", processes[0].PID, processes[1].PID, processes[2].PID)
	}

	// Test ascending sort
	SortProcesses(processes, SortByCPU, SortAsc)
	if processes[0].PID != 3 || processes[1].PID != 1 || processes[2].PID != 2 {
		t.Errorf("CPU ascending sort failed: got PIDs %d, %d, %d", processes[0].PID, processes[1].PID, processes[2].PID)
	}
}

func TestSortProcessesByMemory(t *testing.T) {
	t.Parallel()
	processes := []*ProcessInfo{
		{PID: 1, RSSKB: 100},
		{PID: 2, RSSKB: 500},
		{PID: 3, RSSKB: 50},
	}

	SortProcesses(processes, SortByMemory, SortDesc)
	if processes[0].PID != 2 || processes[1].PID != 1 || processes[2].PID != 3 {
		t.Errorf("Memory descending sort failed: got PIDs %d, %d, %d", processes[0].PID, processes[1].PID, processes[2].PID)
	}
}

func TestSortProcessesByPID(t *testing.T) {
	t.Parallel()
	processes := []*ProcessInfo{
		{PID: 100},
		{PID: 50},
		{PID: 200},
	}

	SortProcesses(processes, SortByPID, SortAsc)
	if processes[0].PID != 50 || processes[1].PID != 100 || processes[2].PID != 200 {
		t.Errorf("PID ascending sort failed: got PIDs %d, %d, %d", processes[0].PID, processes[1].PID, processes[2].PID)
	}
}

func TestSortProcessesByName(t *testing.T) {
	t.Parallel()
	processes := []*ProcessInfo{
		{PID: 1, Name: "zsh"},
		{PID: 2, Name: "bash"},
		{PID: 3, Name: "python"},
	}

	SortProcesses(processes, SortByName, SortAsc)
	if processes[0].Name != "bash" || processes[1].Name != "python" || processes[2].Name != "zsh" {
		t.Errorf("Name ascending sort failed: got names %s, %s, %s", processes[0].Name, processes[1].Name, processes[2].Name)
	}
}

func TestParseSortColumn(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected SortColumn
		valid    bool
	}{
		{"", SortByCPU, true},
		{"cpu", SortByCPU, true},
		{"memory", SortByMemory, true},
		{"pid", SortByPID, true},
		{"name", SortByName, true},
		{"io", "", false},
	}

	for _, tt := range tests {
		column, err := ParseSortColumn(tt.input)
		if tt.valid && err != nil {
			t.Errorf("ParseSortColumn(%q) expected valid, got error: %v", tt.input, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ParseSortColumn(%q) expected error, got nil", tt.input)
		}
		if column != tt.expected {
			t.Errorf("ParseSortColumn(%q) = %q, want %q", tt.input, column, tt.expected)
		}
	}
}
