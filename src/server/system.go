package server

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sysworxx-io/src/server/hal"
)

const compatiblePath = "firmware/devicetree/base/compatible"

// Model name prefixes searched in the first compatible entry, in order.
var modelPrefixes = []string{"ctr", "pi"}

var osReleasePath = "/etc/os-release"

var errNoModel = errors.New("no model in devicetree")

// GetOsRelease reads /etc/os-release and returns the distribution ID
func GetOsRelease() string {
	file, err := os.Open(osReleasePath)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			// ID=debian or ID="debian"
			id := strings.TrimPrefix(line, "ID=")
			id = strings.Trim(id, "\"")
			return strings.ToLower(id)
		}
	}
	return ""
}

func readCompatible(sysfsRoot string) (string, error) {
	data, err := os.ReadFile(filepath.Join(sysfsRoot, compatiblePath))
	if err != nil {
		return "", hal.AccessFailed("devicetree", err)
	}
	return string(data), nil
}

// firstCompatible returns the most specific entry of a NUL separated
// compatible list.
func firstCompatible(compatible string) string {
	first, _, _ := strings.Cut(compatible, "\x00")
	return first
}

// DeviceName returns the model named in the devicetree, e.g. "ctr700" for
// "systec,ctr700,rev1".
func DeviceName(sysfsRoot string) (string, error) {
	compatible, err := readCompatible(sysfsRoot)
	if err != nil {
		return "", err
	}
	return decodeDeviceName(compatible)
}

func decodeDeviceName(compatible string) (string, error) {
	parts := strings.Split(firstCompatible(compatible), ",")
	for _, prefix := range modelPrefixes {
		for _, part := range parts {
			if strings.Contains(part, prefix) {
				return part, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %w", hal.ErrGeneric, errNoModel)
}

// HardwareRevision returns the board revision following ",rev" in the
// devicetree.
func HardwareRevision(sysfsRoot string) (int, error) {
	compatible, err := readCompatible(sysfsRoot)
	if err != nil {
		return 0, err
	}
	return decodeRevision(compatible)
}

func decodeRevision(compatible string) (int, error) {
	first := firstCompatible(compatible)
	if i := strings.LastIndex(first, ",rev"); i >= 0 {
		first = first[i+len(",rev"):]
	}
	rev, err := strconv.ParseUint(first, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: revision %q", hal.ErrGeneric, first)
	}
	return int(rev), nil
}

// FormatUptime formats a duration into a human-readable string
func FormatUptime(duration time.Duration) string {
	totalSeconds := int(duration.Seconds())
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		return fmt.Sprintf("%dm", minutes)
	}
}
