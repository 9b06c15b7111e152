package models

import "time"

// Countdown is a dated event. DaysLeft, NextOccurrence, IsPast and Message are
// derived from Date relative to the day the countdown is read.
type Countdown struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Date           string    `json:"date"`
	Yearly         bool      `json:"yearly"`
	DaysLeft       int       `json:"days_left"`
	NextOccurrence string    `json:"next_occurrence"`
	IsPast         bool      `json:"is_past"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

type Nameday struct {
	Date     string `json:"date"`
	DayName  string `json:"day_name"`
	Names    string `json:"names"`
	Message  string `json:"message"`
	Language string `json:"language"`
}

type User struct {
	Email       string  `json:"email"`
	Username    string  `json:"username"`
	Nickname    *string `json:"nickname,omitempty"`
	Timezone    string  `json:"timezone"`
	Language    string  `json:"language"`
	Personality string  `json:"personality"`
}

type ModulesEnabled struct {
	Weather   bool `json:"weather"`
	Countdown bool `json:"countdown"`
	Reminder  bool `json:"reminder"`
}

// Outfit is the clothing suggestion shown next to the weather.
type Outfit struct {
	Style       string `json:"style"`
	Accessory   string `json:"accessory,omitempty"`
	Animated    bool   `json:"animated"`
	Description string `json:"description"`
}

// DailyBrief is the home-screen summary.
type DailyBrief struct {
	User           *User            `json:"user,omitempty"`
	ModulesEnabled ModulesEnabled   `json:"modules_enabled"`
	Location       *TrackedLocation `json:"location,omitempty"`
	Weather        *Weather         `json:"weather,omitempty"`
	WeatherError   string           `json:"weather_error,omitempty"`
	Outfit         *Outfit          `json:"outfit,omitempty"`
	Countdowns     []Countdown      `json:"countdowns"`
	Nameday        *Nameday         `json:"nameday,omitempty"`
	GeneratedAt    time.Time        `json:"generated_at"`
}
