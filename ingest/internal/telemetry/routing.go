package telemetry

// TableMap routes an upstream message-type id to its destination table.
// Built once at startup and treated as immutable afterwards.
type TableMap map[int]string

func (m TableMap) Route(msgID int) (string, bool) {
	table, ok := m[msgID]
	return table, ok
}

// RobotMap is the fixed bijection from externally issued robot UUIDs to
// the compact integer ids stored as robot_id in every telemetry table.
type RobotMap map[string]int

func (m RobotMap) NumericID(robotUUID string) (int, bool) {
	id, ok := m[robotUUID]
	return id, ok
}

// DefaultTableMap covers the message types currently given a hypertable.
// New msgIds get a row here once their table exists.
func DefaultTableMap() TableMap {
	return TableMap{
		24:   "gps_raw_int_24",
		141:  "altitude_141",
		147:  "battery_status_147",
		1101: "unknown_1101",
	}
}

// DefaultRobotRoster lists the fleet's robot UUIDs in seed order; the
// numeric id of each robot is its 1-based position in this list.
func DefaultRobotRoster() []string {
	return []string{
		"01fb056f-a3fb-4c38-9f97-ff11b9dea241",
		"163c4473-d37b-4bec-a293-208a69bd2b0d",
		"f6024fc0-e542-4858-9ff4-f7365ef914de",
		"37e05a23-0c44-4384-b48b-031ce0e33e38",
		"dce87884-1065-41f9-b50c-8f6656a8313e",
	}
}

func DefaultRobotMap() RobotMap {
	roster := DefaultRobotRoster()
	m := make(RobotMap, len(roster))
	for i, id := range roster {
		m[id] = i + 1
	}
	return m
}
