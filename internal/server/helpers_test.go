package server_test

import "strconv"

func itoa(n int) string { return strconv.Itoa(n) }

func chatPath(chatID int, suffix string) string {
	return "/api/chats/" + strconv.Itoa(chatID) + suffix
}
