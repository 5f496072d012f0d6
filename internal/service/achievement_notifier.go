package service

import (
	"context"
	"fmt"
	"log"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// FanoutAchievementNotifier рассылает уведомления о выданных достижениях
// по всем подключенным каналам: WebSocket-рассылка в сессию и письмо
// владельцу аккаунта. Доставка best-effort: сбой канала логируется,
// выдача достижения уже зафиксирована в базе.
type FanoutAchievementNotifier struct {
	broadcaster  sessionmanager.Broadcaster
	emailService EmailService
	userRepo     repository.UserRepository
}

// NewFanoutAchievementNotifier создает новый рассыльщик уведомлений.
// Любая из зависимостей может быть nil: соответствующий канал отключается.
func NewFanoutAchievementNotifier(
	broadcaster sessionmanager.Broadcaster,
	emailService EmailService,
	userRepo repository.UserRepository,
) *FanoutAchievementNotifier {
	return &FanoutAchievementNotifier{
		broadcaster:  broadcaster,
		emailService: emailService,
		userRepo:     userRepo,
	}
}

// NotifyAchievementGranted реализует AchievementNotifier
func (n *FanoutAchievementNotifier) NotifyAchievementGranted(ctx context.Context, grant *entity.AchievementGrant, fact *entity.SessionFact) {
	if n.broadcaster != nil {
		payload := map[string]interface{}{
			"user_id":        grant.UserID,
			"participant_id": fact.ParticipantID,
			"display_name":   fact.DisplayName,
			"rule":           grant.Rule,
			"granted_at":     grant.GrantedAt,
		}
		if err := n.broadcaster.BroadcastToSession(fact.SessionID, "achievement:granted", payload); err != nil {
			log.Printf("[AchievementNotifier] Ошибка WS-рассылки достижения %s в сессию #%d: %v",
				grant.Rule, fact.SessionID, err)
		}
	}

	if n.emailService != nil && n.userRepo != nil {
		user, err := n.userRepo.GetByID(grant.UserID)
		if err != nil {
			log.Printf("[AchievementNotifier] Пользователь #%d не найден, письмо не отправлено: %v", grant.UserID, err)
			return
		}
		// Ключ идемпотентности исключает повторное письмо при переобработке факта
		idempotencyKey := fmt.Sprintf("achievement-%d-%s", grant.UserID, grant.Rule)
		if err := n.emailService.SendAchievementEmail(ctx, user.Email, grant.Rule, idempotencyKey); err != nil {
			log.Printf("[AchievementNotifier] Ошибка отправки письма пользователю #%d: %v", grant.UserID, err)
		}
	}
}
