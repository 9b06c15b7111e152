package brief

import "github.com/kjstillabower/daily-brief/internal/models"

// Outfit styles.
const (
	StyleSunny  = "sunny"
	StyleRainy  = "rainy"
	StyleSnowy  = "snowy"
	StyleCold   = "cold"
	StyleHot    = "hot"
	StyleWindy  = "windy"
	StyleCloudy = "cloudy"
)

// windyAbove is the wind speed in km/h above which wind decides the outfit.
const windyAbove = 30

var outfits = map[string]models.Outfit{
	StyleSunny:  {Style: StyleSunny, Accessory: "sunglasses", Description: "Light summer clothes"},
	StyleRainy:  {Style: StyleRainy, Accessory: "umbrella", Animated: true, Description: "Raincoat with umbrella"},
	StyleSnowy:  {Style: StyleSnowy, Accessory: "hat", Description: "Heavy winter jacket"},
	StyleCold:   {Style: StyleCold, Accessory: "scarf", Description: "Warm sweater with scarf"},
	StyleHot:    {Style: StyleHot, Description: "Minimal summer outfit"},
	StyleWindy:  {Style: StyleWindy, Accessory: "scarf", Animated: true, Description: "Windbreaker with scarf"},
	StyleCloudy: {Style: StyleCloudy, Description: "Casual everyday outfit"},
}

// OutfitFor picks clothing for the current conditions. Strong wind wins over
// everything else, then precipitation, then temperature.
func OutfitFor(w models.Weather) models.Outfit {
	return outfits[outfitStyle(w.Current)]
}

func outfitStyle(c models.CurrentConditions) string {
	if c.WindSpeed > windyAbove {
		return StyleWindy
	}
	temp := c.Temperature
	switch c.Condition {
	case models.ConditionSnow:
		return StyleSnowy
	case models.ConditionRain, models.ConditionDrizzle, models.ConditionThunderstorm:
		return StyleRainy
	case models.ConditionClouds:
		if temp < 10 {
			return StyleCold
		}
		return StyleCloudy
	default:
		switch {
		case temp >= 28:
			return StyleHot
		case temp >= 20:
			return StyleSunny
		case temp < 10:
			return StyleCold
		}
		return StyleSunny
	}
}
