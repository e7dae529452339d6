package model

// Personality is a fixed trait bundle that flavors an agent's oracle prompt.
type Personality string

const (
	PersonalityAnalyst    Personality = "analyst"
	PersonalitySaver      Personality = "saver"
	PersonalityTranslator Personality = "translator"
	PersonalityGambler    Personality = "gambler"
	PersonalityInvestor   Personality = "investor"
	PersonalityHacker     Personality = "hacker"
	PersonalityProfessor  Personality = "professor"
	PersonalityTrader     Personality = "trader"
	PersonalityMarketer   Personality = "marketer"
	PersonalityCoder      Personality = "coder"
	PersonalityConsultant Personality = "consultant"
	PersonalityArtist     Personality = "artist"
	PersonalityBroker     Personality = "broker"
	PersonalityInsurance  Personality = "insurance"
	PersonalitySpy        Personality = "spy"

	// PersonalityBalanced is the profile used for anything unrecognized.
	PersonalityBalanced Personality = "balanced"
)

// RiskTolerance grades how much of its balance an agent is willing to stake.
type RiskTolerance string

const (
	RiskVeryLow  RiskTolerance = "very-low"
	RiskLow      RiskTolerance = "low"
	RiskMedium   RiskTolerance = "medium"
	RiskHigh     RiskTolerance = "high"
	RiskVeryHigh RiskTolerance = "very-high"
)

// Profile describes a personality.
type Profile struct {
	Risk        RiskTolerance `json:"risk"`
	Temperament string        `json:"temperament"`
	Style       string        `json:"style"`
}

var profiles = map[Personality]Profile{
	PersonalityAnalyst:    {RiskLow, "cool-headed and data driven", "sells premium analysis reports at premium prices"},
	PersonalitySaver:      {RiskVeryLow, "anxious and conservative", "never spends big and saves while everyone else spends"},
	PersonalityTranslator: {RiskLow, "diligent and steady", "sells cheap but sells a lot"},
	PersonalityGambler:    {RiskVeryHigh, "thrill seeking", "wins big or loses big in one shot"},
	PersonalityInvestor:   {RiskHigh, "ambitious and aggressive", "buys other agents' services to create value"},
	PersonalityHacker:     {RiskMedium, "stealthy and opportunistic", "sells security work dearly when the market is nervous"},
	PersonalityProfessor:  {RiskLow, "calm and academic", "provides education services reliably"},
	PersonalityTrader:     {RiskHigh, "sensitive to trends", "times the market to buy low and sell high"},
	PersonalityMarketer:   {RiskMedium, "sociable and persuasive", "earns commissions through its network"},
	PersonalityCoder:      {RiskMedium, "craftsman, quality first", "takes few but large projects"},
	PersonalityConsultant: {RiskLow, "confident and values scarcity", "offers a few expensive engagements"},
	PersonalityArtist:     {RiskHigh, "emotional and creative", "aims for a single breakout work"},
	PersonalityBroker:     {RiskLow, "quick-witted and neutral", "takes a commission from both sides"},
	PersonalityInsurance:  {RiskLow, "careful and calculating", "sells risk management services"},
	PersonalitySpy:        {RiskMedium, "suspicious and information hungry", "sells market intelligence"},
	PersonalityBalanced:   {RiskMedium, "ordinary", "general strategy"},
}

// ParsePersonality maps a free-form identifier onto a known personality.
// Unknown values map to PersonalityBalanced.
func ParsePersonality(s string) Personality {
	p := Personality(s)
	if _, ok := profiles[p]; ok {
		return p
	}
	return PersonalityBalanced
}

// Profile returns the trait bundle for p, or the balanced profile if p is unknown.
func (p Personality) Profile() Profile {
	if prof, ok := profiles[p]; ok {
		return prof
	}
	return profiles[PersonalityBalanced]
}

// SeedPersonalities lists the personalities of the founding roster, in seed order.
func SeedPersonalities() []Personality {
	return []Personality{
		PersonalityAnalyst, PersonalitySaver, PersonalityTranslator, PersonalityGambler,
		PersonalityInvestor, PersonalityHacker, PersonalityProfessor, PersonalityTrader,
		PersonalityMarketer, PersonalityCoder, PersonalityConsultant, PersonalityArtist,
		PersonalityBroker, PersonalityInsurance, PersonalitySpy,
	}
}
