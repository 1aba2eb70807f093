package connector

// NormalizeEvent maps common OCSF/ECS field spellings onto the logical
// schema the binarizer thresholds reference. Unmapped fields pass through
// untouched; the binarizer ignores anything without a threshold.
func NormalizeEvent(ev map[string]any) map[string]any {
	out := make(map[string]any, len(ev))
	for k, v := range ev {
		out[k] = v
	}

	alias(out, "ts", "time", "@timestamp", "timestamp")
	alias(out, "src_ip", "src_endpoint.ip", "source.ip")
	alias(out, "dst_ip", "dst_endpoint.ip", "destination.ip")
	alias(out, "user", "user.name", "user_name")
	alias(out, "process", "process.name", "process_name")
	alias(out, "host", "host_name", "host.name")
	alias(out, "action", "activity_id", "event.action")
	alias(out, "technique", "attack.technique_id", "threat.technique.id")

	// Flatten one level of nested asset objects, a shape Splunk exports use.
	if asset, ok := out["asset"].(map[string]any); ok {
		for k, v := range asset {
			out["asset."+k] = v
		}
	}
	return out
}

// alias copies the first present source field into target when target is
// absent.
func alias(ev map[string]any, target string, sources ...string) {
	if _, ok := ev[target]; ok {
		return
	}
	for _, s := range sources {
		if v, ok := ev[s]; ok {
			ev[target] = v
			return
		}
	}
}
