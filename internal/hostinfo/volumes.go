package hostinfo

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// ramFilesystems lists fstypes that never back a real storage device
// and are excluded from the volumes collection (spec.md §4.7
// "non-RAM filesystems with positive total size").
var ramFilesystems = map[string]bool{
	"tmpfs":       true,
	"devtmpfs":    true,
	"proc":        true,
	"sysfs":       true,
	"cgroup":      true,
	"cgroup2":     true,
	"devpts":      true,
	"debugfs":     true,
	"tracefs":     true,
	"securityfs":  true,
	"pstore":      true,
	"bpf":         true,
	"mqueue":      true,
	"configfs":    true,
	"fusectl":     true,
}

// enumerateVolumes lists mounted non-RAM filesystems with a positive
// total size, using unix.Statfs for capacity (spec.md §4.7).
func enumerateVolumes() ([]interface{}, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if ramFilesystems[fsType] {
			continue
		}

		var stat unix.Statfs_t
		if err := unix.Statfs(mountPoint, &stat); err != nil {
			continue
		}
		total := stat.Blocks * uint64(stat.Bsize)
		if total == 0 {
			continue
		}
		free := stat.Bavail * uint64(stat.Bsize)

		out = append(out, map[string]interface{}{
			"mountPoint": mountPoint,
			"fsType":     fsType,
			"capacity":   total,
			"free":       free,
		})
	}
	return out, scanner.Err()
}
