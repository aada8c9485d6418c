// Package diskutil wraps the macOS Disk Utility command, decoding its plist
// output into container and RAID set descriptions.
package diskutil

// APFSList is the output of "diskutil apfs list -plist".
type APFSList struct {
	Containers []Container `plist:"Containers"`
}

// Container is one APFS container.
type Container struct {
	ContainerReference      string          `plist:"ContainerReference"`
	APFSContainerUUID       string          `plist:"APFSContainerUUID"`
	CapacityCeiling         int64           `plist:"CapacityCeiling"`
	CapacityFree            int64           `plist:"CapacityFree"`
	DesignatedPhysicalStore string          `plist:"DesignatedPhysicalStore"`
	PhysicalStores          []PhysicalStore `plist:"PhysicalStores"`
	Volumes                 []Volume        `plist:"Volumes"`
}

// PhysicalStore is a partition backing a container.
type PhysicalStore struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	DiskUUID         string `plist:"DiskUUID"`
	Size             int64  `plist:"Size"`
}

// Volume is one APFS volume within a container.
type Volume struct {
	DeviceIdentifier string   `plist:"DeviceIdentifier"`
	Name             string   `plist:"Name"`
	Roles            []string `plist:"Roles"`
}

// RoleSystem marks the primary system volume.
const RoleSystem = "System"

// UserVisible reports whether the volume is shown to users: it has no role
// or it is the system volume.
func (v Volume) UserVisible() bool {
	if len(v.Roles) == 0 {
		return true
	}
	for _, r := range v.Roles {
		if r == RoleSystem {
			return true
		}
	}
	return false
}

// HasUserVisibleVolume reports whether any volume in c is user visible.
func (c Container) HasUserVisibleVolume() bool {
	for _, v := range c.Volumes {
		if v.UserVisible() {
			return true
		}
	}
	return false
}

// DesignatedStore returns the physical store named by
// DesignatedPhysicalStore, falling back to the first store.
func (c Container) DesignatedStore() (PhysicalStore, bool) {
	for _, s := range c.PhysicalStores {
		if s.DeviceIdentifier == c.DesignatedPhysicalStore {
			return s, true
		}
	}
	if len(c.PhysicalStores) > 0 {
		return c.PhysicalStores[0], true
	}
	return PhysicalStore{}, false
}

// Name returns the display name of the container: the system volume's name,
// else the first user-visible volume's name, else the container reference.
func (c Container) Name() string {
	first := ""
	for _, v := range c.Volumes {
		for _, r := range v.Roles {
			if r == RoleSystem && v.Name != "" {
				return v.Name
			}
		}
		if first == "" && v.UserVisible() {
			first = v.Name
		}
	}
	if first != "" {
		return first
	}
	return c.ContainerReference
}

// Used returns the bytes in use within the container.
func (c Container) Used() int64 {
	return c.CapacityCeiling - c.CapacityFree
}

// RAIDList is the output of "diskutil appleraid list -plist".
type RAIDList struct {
	AppleRAIDSets []RAIDSet `plist:"AppleRAIDSets"`
}

// RAIDSet is one AppleRAID set.
type RAIDSet struct {
	AppleRAIDSetUUID string       `plist:"AppleRAIDSetUUID"`
	BSDName          string       `plist:"BSD Name"`
	Name             string       `plist:"Name"`
	Level            string       `plist:"Level"`
	Status           string       `plist:"Status"`
	Size             int64        `plist:"Size"`
	Members          []RAIDMember `plist:"Members"`
}

// RAIDMember is one disk within an AppleRAID set.
type RAIDMember struct {
	AppleRAIDMemberUUID string `plist:"AppleRAIDMemberUUID"`
	BSDName             string `plist:"BSD Name"`
	MemberStatus        string `plist:"MemberStatus"`
}
