package model

// All lists every table owned by this service, in migration order.
func All() []interface{} {
	return []interface{}{
		&Scenario{},
		&Assignment{},
		&Session{},
		&TranscriptTurn{},
		&Evaluation{},
		&SessionFlag{},
	}
}
