package main

import (
	"database/sql"

	"github.com/akinalp/agroconsult/repository"
)

// Repositories groups the store implementations. Every repository shares
// the same *sql.DB pool.
type Repositories struct {
	Consultation repository.ConsultationRepository
	ChatMessage  repository.ChatMessageRepository
}

func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		Consultation: repository.NewSQLiteConsultationRepo(conn),
		ChatMessage:  repository.NewSQLiteChatMessageRepo(conn),
	}
}
