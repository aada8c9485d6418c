// Package smartctl wraps the smartmontools "smartctl" command, decoding its
// JSON output into drive records.
package smartctl

import "strings"

// Output is the subset of "smartctl -a <node> --json" that the monitor reads.
type Output struct {
	Smartctl struct {
		Version    []int     `json:"version"`
		ExitStatus int       `json:"exit_status"`
		Messages   []Message `json:"messages"`
	} `json:"smartctl"`
	Device struct {
		Name     string `json:"name"`
		InfoName string `json:"info_name"`
		Type     string `json:"type"`
		Protocol string `json:"protocol"`
	} `json:"device"`
	ModelFamily     string `json:"model_family"`
	ModelName       string `json:"model_name"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	RotationRate    *int   `json:"rotation_rate"`
	SmartStatus     *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature *struct {
		Current *int `json:"current"`
	} `json:"temperature"`
	NVMeHealth *NVMeHealthLog `json:"nvme_smart_health_information_log"`
}

// Message is a diagnostic line smartctl attaches to its output.
type Message struct {
	String   string `json:"string"`
	Severity string `json:"severity"`
}

// NVMeHealthLog is the NVMe SMART/Health Information log page. Fields are
// pointers so that absent values stay distinguishable from zero.
type NVMeHealthLog struct {
	AvailableSpare          *int   `json:"available_spare"`
	AvailableSpareThreshold *int   `json:"available_spare_threshold"`
	PercentageUsed          *int   `json:"percentage_used"`
	DataUnitsRead           *int64 `json:"data_units_read"`
	DataUnitsWritten        *int64 `json:"data_units_written"`
	UnsafeShutdowns         *int64 `json:"unsafe_shutdowns"`
	MediaErrors             *int64 `json:"media_errors"`
}

// DataUnitBytes is the size of one NVMe data unit: 1000 512-byte sectors.
const DataUnitBytes = 512000

// ExitStatus is smartctl's exit code, a bitmask of independent conditions.
type ExitStatus int

const (
	ExitCommandLineInvalid ExitStatus = 1 << iota
	ExitDeviceOpenFailed
	ExitSMARTCommandFailed
	ExitDiskFailing
	ExitPrefailThreshold
	ExitPastThreshold
	ExitErrorLogPresent
	ExitSelfTestErrors
)

var exitStatusNames = []string{
	"COMMAND_LINE_INVALID",
	"DEVICE_OPEN_FAILED",
	"SMART_COMMAND_FAILED",
	"DISK_FAILING",
	"PREFAIL_THRESHOLD",
	"PAST_THRESHOLD",
	"ERROR_LOG_PRESENT",
	"SELF_TEST_ERRORS",
}

// Has reports whether every bit in bits is set.
func (s ExitStatus) Has(bits ExitStatus) bool {
	return s&bits == bits
}

// Usable reports whether the output can carry drive information. A bad
// command line or a device that could not be opened yields nothing useful;
// every other bit may accompany a valid record.
func (s ExitStatus) Usable() bool {
	return s&(ExitCommandLineInvalid|ExitDeviceOpenFailed) == 0
}

// String lists the set bits, e.g. "DISK_FAILING|ERROR_LOG_PRESENT".
func (s ExitStatus) String() string {
	if s == 0 {
		return "OK"
	}
	var names []string
	for i, name := range exitStatusNames {
		if s&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
