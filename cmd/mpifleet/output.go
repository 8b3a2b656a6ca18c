package main

import (
	"fmt"
	"io"
	"strconv"

	"mpifleet/internal/domain"
)

const rowFormat = "%-15s  %-20s  %-18s  %5s  %6s  %7s  %s\n"

func writeHeader(w io.Writer) {
	fmt.Fprintf(w, rowFormat, "IP", "HOSTNAME", "OS", "CORES", "MEM GB", "DISK GB", "STATUS")
}

func writeRow(w io.Writer, m domain.Machine) {
	hostname, osName, cores, mem, disk := "-", "-", "-", "-", "-"
	if m.Hostname != "" {
		hostname = m.Hostname
	}
	if m.Specs != nil {
		osName = m.Specs.OS
		cores = strconv.Itoa(m.Specs.CPUCores)
		mem = strconv.Itoa(m.Specs.TotalMemoryGB)
		disk = strconv.Itoa(m.Specs.DiskSpaceGB)
	}
	status := string(m.Status)
	if m.LastError != "" {
		status += ": " + m.LastError
	}
	fmt.Fprintf(w, rowFormat, m.Address, truncate(hostname, 20), truncate(osName, 18), cores, mem, disk, status)
}

func writeTable(w io.Writer, machines []domain.Machine) {
	writeHeader(w)
	for _, m := range machines {
		writeRow(w, m)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
