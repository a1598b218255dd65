package logger

const (
	ComponentCore       = "dhcp6d"
	ComponentWire       = "wire"
	ComponentLeaseStore = "leasestore"
	ComponentHooks      = "hooks"
	ComponentSelector   = "selector"
	ComponentNorthbound = "northbound"
)
