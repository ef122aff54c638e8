// Package world holds the household simulation snapshot and the codec
// between that snapshot and the model's two-section replies.
package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Character is one member of the household. All fields are free-form text
// chosen by the model.
type Character struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	Location      string `json:"location"`
	CurrentAction string `json:"current_action"`
	Mood          string `json:"mood"`
	Notes         string `json:"notes,omitempty"`
}

// Environment describes conditions around the house.
type Environment struct {
	Weather     string `json:"weather"`
	Temperature string `json:"temperature"`
	Notes       string `json:"notes"`
}

// WorldState is the canonical simulation snapshot.
type WorldState struct {
	Time        string      `json:"time"` // "HH:MM"
	Characters  []Character `json:"characters"`
	Environment Environment `json:"environment"`
}

const (
	// InitialTime is the clock value of a freshly reset simulation.
	InitialTime = "07:00"

	InitialNarrative = "早晨七點，陽光透過窗簾縫隙灑進屋內。媽媽已經在廚房忙碌，平底鍋裡滋滋作響，飄來煎蛋的香氣。爸爸還在主臥室呼呼大睡，昨晚似乎又熬夜趕專案了。大妹佔據了一樓的浴廁，正對著鏡子仔細整理瀏海。小妹穿著睡衣在客廳沙發上跳來跳去，等著看晨間卡通。哥哥的房間門緊閉，毫無動靜。"
)

var initialCharacters = [...]Character{
	{Name: "爸爸", Role: "工程師", Location: "主臥室", CurrentAction: "睡覺", Mood: "疲憊"},
	{Name: "媽媽", Role: "自由撰稿人", Location: "廚房", CurrentAction: "準備早餐", Mood: "平靜"},
	{Name: "哥哥", Role: "高三生", Location: "兒童房", CurrentAction: "賴床", Mood: "煩躁"},
	{Name: "大妹", Role: "高一生", Location: "浴廁", CurrentAction: "梳洗", Mood: "匆忙"},
	{Name: "小妹", Role: "小學生", Location: "客廳", CurrentAction: "看電視", Mood: "開心"},
}

// InitialState returns a fresh copy of the state every reset starts from.
func InitialState() WorldState {
	return WorldState{
		Time:       InitialTime,
		Characters: slices.Clone(initialCharacters[:]),
		Environment: Environment{
			Weather:     "晴朗",
			Temperature: "24°C",
			Notes:       "早晨的陽光灑進客廳",
		},
	}
}

// Clone returns a deep copy of ws.
func (ws WorldState) Clone() WorldState {
	ws.Characters = slices.Clone(ws.Characters)
	return ws
}

// Equal reports whether two states hold the same values. A nil and an empty
// character list compare equal.
func (ws WorldState) Equal(other WorldState) bool {
	if ws.Time != other.Time || ws.Environment != other.Environment {
		return false
	}
	return slices.Equal(ws.Characters, other.Characters)
}

// Character returns the character with the given name.
func (ws WorldState) Character(name string) (Character, bool) {
	i := slices.IndexFunc(ws.Characters, func(c Character) bool { return c.Name == name })
	if i < 0 {
		return Character{}, false
	}
	return ws.Characters[i], true
}

// JSON renders the state as compact JSON, the form embedded in prompts.
func (ws WorldState) JSON() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ws); err != nil {
		return "", fmt.Errorf("failed to marshal world state: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// MarshalJSON keeps "characters" an array even when the slice is nil.
func (ws WorldState) MarshalJSON() ([]byte, error) {
	type plain WorldState
	p := plain(ws)
	if p.Characters == nil {
		p.Characters = []Character{}
	}
	return json.Marshal(p)
}
