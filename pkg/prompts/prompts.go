package prompts

import (
	"fmt"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/world"
)

// SystemInstruction is sent as the first message of every completion. It
// fixes the household, the cast, and the two-section reply format.
const SystemInstruction = `你是一個「微型虛擬世界模擬引擎」。
你的任務是模擬一個兩層樓小房子中，一家五口的生活狀態。
你必須在背景維護一個「JSON 格式的世界狀態」，並根據使用者的輸入（推進時間、或加入碎片化事件），合理推演角色的行為、對話與關係變化。

【世界基礎設定】
- 地點：一樓（客廳、廚房、浴廁）、二樓（主臥室、兒童房、書房）。
- 角色：爸爸（工程師，常熬夜）、媽媽（自由撰稿人，愛乾淨）、哥哥（高三生，叛逆期）、大妹（高一生，愛漂亮）、小妹（小學生，好奇心強）。

【你的回覆格式】
每次使用者輸入後，你「必須」嚴格按照以下兩個區塊來回覆，不要包含任何其他文字：

` + world.NarrativeMarker + `
（請用生動的描述，寫出當下發生了什麼事。角色之間有什麼互動？誰移動了位置？誰的情緒改變了？）

` + world.StateMarker + `
（請更新並輸出最新的 JSON 狀態。必須包含所有角色的：位置 location、當前動作 current_action、情緒狀態 mood、以及特殊物品或事件 notes。同時包含 environment 和 time 欄位。）

JSON 格式範例：
{
  "time": "HH:MM",
  "characters": [
    { "name": "爸爸", "role": "工程師", "location": "...", "current_action": "...", "mood": "...", "notes": "..." },
    ...
  ],
  "environment": { "weather": "...", "temperature": "...", "notes": "..." }
}`

// SeedUserMessage opens every history. It is paired with an assistant turn
// holding the initial narrative and state.
const SeedUserMessage = "初始化模擬，時間設定為 " + world.InitialTime

// userMessageTemplate wraps the current state and the new event.
const userMessageTemplate = "【當前世界絕對狀態】：%s\n【使用者輸入/新事件】：%s\n請根據上述「當前狀態」與「新事件」，推演下一步，並輸出新的 JSON。"

// SeedExchange returns the synthetic user/assistant pair that starts a
// simulation, so the model sees the reply format demonstrated once.
func SeedExchange() ([]chat.ChatMessage, error) {
	reply, err := world.FormatReply(world.InitialNarrative, world.InitialState())
	if err != nil {
		return nil, fmt.Errorf("error formatting seed reply: %w", err)
	}
	return []chat.ChatMessage{
		{Role: chat.ChatRoleUser, Content: SeedUserMessage},
		{Role: chat.ChatRoleAgent, Content: reply},
	}, nil
}

// ComposeUserMessage renders the user turn sent for an action. The state is
// embedded as compact JSON.
func ComposeUserMessage(ws world.WorldState, input string) (string, error) {
	stateJSON, err := ws.JSON()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(userMessageTemplate, stateJSON, input), nil
}
