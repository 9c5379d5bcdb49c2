package session

// diffRoster reconciles a full roster against the currently known peer set.
// It returns the peers to establish (in the roster, not yet known, not the
// local user) and the user ids to tear down (known, absent from the
// roster). Processing adds and removes in any order converges on exactly
// the roster minus the local user.
func diffRoster(localID string, known map[string]*peerLink, roster []Peer) (adds []Peer, removes []string) {
	present := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		if p.ID == localID {
			continue
		}
		present[p.ID] = struct{}{}
		if _, ok := known[p.ID]; !ok {
			adds = append(adds, p)
		}
	}
	for id := range known {
		if _, ok := present[id]; !ok {
			removes = append(removes, id)
		}
	}
	return adds, removes
}

// rosterAlone reports whether the roster leaves the local user with no
// remote peers (one or zero members). A degenerate one-member session is
// torn down entirely rather than kept alive.
func rosterAlone(localID string, roster []Peer) bool {
	remotes := 0
	for _, p := range roster {
		if p.ID != localID {
			remotes++
		}
	}
	return remotes == 0
}
