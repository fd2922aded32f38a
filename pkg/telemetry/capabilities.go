package telemetry

// Recognized coordinate aliases, checked against agent state keys.
var (
	spatialXAliases = []string{"x", "position_x", "pos_x", "coord_x", "loc_x"}
	spatialYAliases = []string{"y", "position_y", "pos_y", "coord_y", "loc_y"}
	spatialZAliases = []string{"z", "position_z", "pos_z", "coord_z", "loc_z"}
)

// detectCapabilities scans keyframes and deltas once at finalize time.
func detectCapabilities(b *Blob) Capabilities {
	caps := Capabilities{
		HasMetrics: len(b.Index.MetricKeys) > 0,
	}
	for _, e := range b.Index.EventIndex {
		if len(e.Events) > 0 {
			caps.HasEvents = true
			break
		}
	}

	for _, kf := range b.Keyframes {
		if anyAgentSpatial(kf.Agents) {
			caps.HasSpatial = true
			return caps
		}
	}
	for _, d := range b.Deltas {
		if anyAgentSpatial(d.AgentUpdates) {
			caps.HasSpatial = true
			return caps
		}
	}
	return caps
}

func anyAgentSpatial(agents map[string]AgentState) bool {
	for _, state := range agents {
		if stateIsSpatial(state) {
			return true
		}
	}
	return false
}

// stateIsSpatial reports whether the state carries normalizable
// coordinates: an X alias paired with a Y alias, or a grid_cell /
// location_id fallback.
func stateIsSpatial(state AgentState) bool {
	if hasAnyKey(state, spatialXAliases) && hasAnyKey(state, spatialYAliases) {
		return true
	}
	if _, ok := state["grid_cell"]; ok {
		return true
	}
	if _, ok := state["location_id"]; ok {
		return true
	}
	return false
}

func hasAnyKey(state AgentState, aliases []string) bool {
	for _, alias := range aliases {
		if _, ok := state[alias]; ok {
			return true
		}
	}
	return false
}

// SpatialKeys returns the resolved coordinate keys of a state, in X, Y, Z
// order, with empty strings for missing axes. Viewers use it to normalize
// positions without re-deriving the alias table.
func SpatialKeys(state AgentState) (x, y, z string) {
	x = firstKey(state, spatialXAliases)
	y = firstKey(state, spatialYAliases)
	z = firstKey(state, spatialZAliases)
	return x, y, z
}

func firstKey(state AgentState, aliases []string) string {
	for _, alias := range aliases {
		if _, ok := state[alias]; ok {
			return alias
		}
	}
	return ""
}
