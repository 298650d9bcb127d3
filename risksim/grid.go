package risksim

// BuildGrid expands a Grid into the full cross-product of Configs spec
// §4.G describes, pairing every senior-allocation point with every
// coverage floor, default rate, correlation level, recovery rate, and
// priority-window duration. WithdrawalSensitivity and ResponseProfile are
// not grid axes in the spec's enumerated dimensions; callers that want to
// sweep them build multiple Grids and concatenate the results.
func BuildGrid(g Grid, sensitivity WithdrawalSensitivity, profile ResponseProfile) []Config {
	var configs []Config
	for _, seniorBps := range g.SeniorAllocationBps {
		for _, floorBps := range g.JuniorCoverageFloorBps {
			for _, defaultRate := range g.DefaultRatePct {
				for _, correlation := range g.CorrelationStrength {
					for _, recovery := range g.RecoveryRate {
						for _, windowHours := range g.SeniorPriorityWindowHours {
							configs = append(configs, Config{
								SeniorAllocationBps:       seniorBps,
								JuniorCoverageFloorBps:    floorBps,
								DefaultRatePct:            defaultRate,
								RecoveryRate:              recovery,
								CorrelationStrength:       correlation,
								WithdrawalSensitivity:     sensitivity,
								SeniorPriorityWindowHours: windowHours,
								ResponseProfile:           profile,
							})
						}
					}
				}
			}
		}
	}
	return configs
}
