package game

// VisibleTo returns what the given player can see: alive players other than
// itself and food within AOIRings cells of its position. Results are in ID
// order. An unknown or eliminated viewer sees nothing.
func (e *Engine) VisibleTo(room *RoomState, playerID string) (players []*Player, foods []*Food) {
	if room == nil {
		return nil, nil
	}
	viewer, ok := room.Players[playerID]
	if !ok || !viewer.Alive {
		return nil, nil
	}

	pids, fids := room.Grid.QueryRadius(viewer.X, viewer.Y, e.cfg.AOIRings)
	players = make([]*Player, 0, len(pids))
	for _, id := range pids {
		if id == playerID {
			continue
		}
		if p, ok := room.Players[id]; ok && p.Alive {
			players = append(players, p)
		}
	}
	foods = make([]*Food, 0, len(fids))
	for _, id := range fids {
		if f, ok := room.Foods[id]; ok {
			foods = append(foods, f)
		}
	}
	return players, foods
}
