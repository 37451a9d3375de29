package server

import (
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// DefaultRooms returns the built-in room set, created on the date of createdAt.
func DefaultRooms(createdAt time.Time) []chat.Room {
	y, m, d := createdAt.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, createdAt.Location())
	return []chat.Room{
		{ID: chat.DefaultRoomID, Name: "🍔 Общий чат", Description: "Главная комната для всех гурманов", Icon: "🍔", CreatedAt: day},
		{ID: "foodies", Name: "🍟 Фудики", Description: "Обсуждаем еду и рецепты", Icon: "🍟", CreatedAt: day},
		{ID: "gaming", Name: "🎮 Игровая", Description: "Для любителей поиграть", Icon: "🎮", CreatedAt: day},
		{ID: "music", Name: "🎵 Музыкальная", Description: "Делимся любимой музыкой", Icon: "🎵", CreatedAt: day},
	}
}

// DefaultUsers returns the demo accounts registered at startup.
func DefaultUsers() []chat.User {
	return []chat.User{
		{Username: "Гурман", Avatar: "🍔", Status: "Ем бургер"},
		{Username: "Бургероман", Avatar: "🍟", Status: "Жду картошку"},
		{Username: "Сырный", Avatar: "🧀", Status: "Люблю сыр"},
		{Username: "Макс", Avatar: "🥤", Status: "Пью колу"},
	}
}

// NewEngine builds a chat engine from the rooms, users and history limit in cfg.
func NewEngine(cfg Config) (*chat.Engine, error) {
	if !slices.ContainsFunc(cfg.Rooms, func(r chat.Room) bool { return r.ID == chat.DefaultRoomID }) {
		return nil, fmt.Errorf("rooms must include %q", chat.DefaultRoomID)
	}
	presence := chat.NewPresence()
	for _, u := range cfg.Users {
		if err := presence.Register(u); err != nil {
			return nil, err
		}
	}
	rooms := chat.NewRoomRegistry(presence, cfg.Rooms...)
	return chat.NewEngine(presence, rooms, chat.NewMessageLog(), chat.NewDispatcher(),
		chat.WithHistoryLimit(cfg.HistoryLimit)), nil
}
