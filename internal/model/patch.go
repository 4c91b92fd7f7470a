package model

import (
	"bytes"
	"encoding/json"
)

// OptionalString はJSONの三状態（キー欠落 / 明示的null / 値あり）を
// 区別できるstringフィールドを表す。
// Setがfalseならキー自体が存在しなかった（変更しない）。
// Setがtrueでnullなら明示的なnull（クリアする）。
type OptionalString struct {
	Set   bool
	Valid bool // false = 明示的null
	Value string
}

// UnmarshalJSON はキーが存在した場合にのみ呼ばれるため、Setをtrueにする。
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// OptionalBool はJSONの三状態を区別できるboolフィールドを表す。
type OptionalBool struct {
	Set   bool
	Valid bool
	Value bool
}

// UnmarshalJSON はキーが存在した場合にのみ呼ばれるため、Setをtrueにする。
func (o *OptionalBool) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// ProfilePatch はプロフィールの部分更新を表す。
// 指定されたフィールドのみが変更され、updated_atは常に更新される。
// 「変更しない」と「クリアする」を曖昧にしないため、各フィールドは三状態を持つ。
type ProfilePatch struct {
	Name           OptionalString `json:"name"`
	AvatarURL      OptionalString `json:"avatarUrl"`
	MarketingAgree OptionalBool   `json:"marketingAgree"`
}

// IsEmpty はどのフィールドも指定されていないかどうかを返す。
// 空のパッチでの更新はエラーになる。
func (p *ProfilePatch) IsEmpty() bool {
	return !p.Name.Set && !p.AvatarURL.Set && !p.MarketingAgree.Set
}
