package request

import (
	"bytes"

	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
)

// MatchGroup picks the group an accepted group request should land in.
// A single candidate is always used. Among several, the one sharing the most
// participants with the request's additional invitees wins; ties go to the
// earliest created, then the lowest id. With several candidates and no overlap
// at all there is no match and a new group is started.
func MatchGroup(req *domain.ConversationRequest, candidates []*domain.Conversation) *domain.Conversation {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	invitees := make(map[uuid.UUID]bool, len(req.AdditionalUserIDs))
	for _, id := range req.AdditionalUserIDs {
		invitees[id] = true
	}

	var best *domain.Conversation
	bestOverlap := 0
	for _, c := range candidates {
		overlap := 0
		for _, p := range c.Participants {
			if invitees[p.UserID] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		if best == nil || overlap > bestOverlap || (overlap == bestOverlap && earlier(c, best)) {
			best, bestOverlap = c, overlap
		}
	}
	return best
}

func earlier(a, b *domain.Conversation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ConversationID[:], b.ConversationID[:]) < 0
}
