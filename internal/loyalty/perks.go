package loyalty

// Perk is an auxiliary offer shown once PerksThreshold is reached.
type Perk struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

// GreenPerks returns the Hong Kong Green Perks catalogue.
func GreenPerks() []Perk {
	return []Perk{
		{Category: "Hotel", Name: "Green Hotels & Resorts"},
		{Category: "Car", Name: "Tesla / BYD Airport Transfer"},
		{Category: "Tours", Name: "Eco-Tour Operators"},
		{Category: "Food", Name: "Green Culinary Experiences"},
	}
}
