//go:build linux

package entropy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"golang.org/x/sys/unix"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// DMI fields that leak hypervisor identity.
var dmiPaths = []string{
	"/sys/class/dmi/id/product_name",
	"/sys/class/dmi/id/sys_vendor",
	"/sys/class/dmi/id/board_vendor",
	"/sys/class/dmi/id/bios_vendor",
}

var tpmDevicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// collectPlatform fills the Linux-specific profile fields. Every probe is
// best-effort: a locked-down sysfs degrades the scan, it never fails it.
func collectPlatform(ctx context.Context, p *attest.HardwareProfile, opts ProbeOptions) {
	collectCPUInfo(p)
	collectMemInfo(p)
	collectCacheSizes(p)
	scanDMI(&p.Emulation)
	if opts.DBusEnabled {
		p.Emulation.ChassisType = hostnamedChassis(ctx)
	}
	if opts.TPMEnabled {
		p.Emulation.TPMManufacturer = tpmManufacturer(opts.TPMPath)
	}
}

// collectCPUInfo parses /proc/cpuinfo for the model string, feature
// flags, and the hypervisor CPUID bit.
func collectCPUInfo(p *attest.HardwareProfile) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 64<<10)
	for sc.Scan() {
		line := sc.Text()
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "model name", "Processor", "cpu model":
			if p.CPUModel == "" {
				p.CPUModel = value
			}
		case "flags", "Features":
			if len(p.CPUFlags) == 0 {
				p.CPUFlags = strings.Fields(value)
			}
		}
	}

	for _, flag := range p.CPUFlags {
		if flag == "hypervisor" {
			p.Emulation.Indicators = append(p.Emulation.Indicators, attest.EmulationIndicator{
				Source: "cpuinfo",
				Value:  "hypervisor flag",
				Strong: true,
			})
			break
		}
	}
}

// collectMemInfo reads total memory via sysinfo(2).
func collectMemInfo(p *attest.HardwareProfile) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return
	}
	p.MemoryMB = uint64(info.Totalram) * uint64(info.Unit) >> 20
}

// collectCacheSizes reads the cpu0 cache hierarchy from sysfs. Instruction
// caches are skipped; data and unified caches land on their level.
func collectCacheSizes(p *attest.HardwareProfile) {
	entries, err := os.ReadDir("/sys/devices/system/cpu/cpu0/cache")
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "index") {
			continue
		}
		dir := "/sys/devices/system/cpu/cpu0/cache/" + e.Name()
		if typ := readSysfsString(dir + "/type"); typ == "Instruction" {
			continue
		}
		kb := parseCacheSizeKB(readSysfsString(dir + "/size"))
		if kb == 0 {
			continue
		}
		switch readSysfsString(dir + "/level") {
		case "1":
			p.L1KB = kb
		case "2":
			p.L2KB = kb
		case "3":
			p.L3KB = kb
		}
	}
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// parseCacheSizeKB decodes sysfs cache sizes like "32K" or "8M" to KiB.
func parseCacheSizeKB(s string) int {
	if s == "" {
		return 0
	}
	mult := 1
	switch s[len(s)-1] {
	case 'K', 'k':
		s = s[:len(s)-1]
	case 'M', 'm':
		s = s[:len(s)-1]
		mult = 1024
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * mult
}

// scanDMI checks the SMBIOS vendor strings for hypervisor markers.
func scanDMI(scan *attest.EmulationScan) {
	for _, path := range dmiPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		value := strings.TrimSpace(string(data))
		if marker := matchVMMarker(value); marker != "" {
			scan.Indicators = append(scan.Indicators, attest.EmulationIndicator{
				Source: "dmi",
				Value:  marker,
				Strong: true,
			})
		}
	}
}

// hostnamedChassis asks systemd-hostnamed for its chassis classification
// over the system bus. hostnamed reports "vm" under every hypervisor it
// knows about, independently of DMI.
func hostnamedChassis(ctx context.Context) string {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return ""
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.hostname1", "/org/freedesktop/hostname1")
	variant, err := obj.GetProperty("org.freedesktop.hostname1.Chassis")
	if err != nil {
		return ""
	}
	chassis, _ := variant.Value().(string)
	return chassis
}

// tpmManufacturer reads the TPM's manufacturer property. Software TPMs
// (swtpm, IBM simulator) announce themselves here, which is an emulation
// signal even when DMI has been scrubbed. An explicit device path skips
// the default search order.
func tpmManufacturer(devPath string) string {
	search := tpmDevicePaths
	if devPath != "" {
		search = []string{devPath}
	}
	var dev string
	for _, path := range search {
		if _, err := os.Stat(path); err == nil {
			dev = path
			break
		}
	}
	if dev == "" {
		return ""
	}

	t, err := transport.OpenTPM(dev)
	if err != nil {
		return ""
	}
	defer t.Close()

	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: 1,
	}.Execute(t)
	if err != nil {
		return ""
	}

	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil || len(props.TPMProperty) == 0 {
		return ""
	}
	mfr := props.TPMProperty[0].Value
	return strings.TrimRight(fmt.Sprintf("%c%c%c%c",
		byte(mfr>>24), byte(mfr>>16), byte(mfr>>8), byte(mfr)), "\x00 ")
}
