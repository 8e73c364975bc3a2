// internal/service/campaign_reports.go
package service

import (
	"context"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

const maxRecipientSample = 100

// LedgerPage is one page of a campaign's dispatch ledger in append order.
type LedgerPage struct {
	Entries    []*model.LedgerEntry `json:"data"`
	Pagination map[string]int       `json:"pagination"`
}

// LedgerEntries pages through the ledger entries of a campaign, optionally
// keeping only one outcome.
func (s *CampaignService) LedgerEntries(ctx context.Context, p *model.Principal, id, page, pageSize int, outcome string) (*LedgerPage, error) {
	if _, err := s.GetCampaignDetails(ctx, p, id); err != nil {
		return nil, err
	}
	o := model.Outcome(outcome)
	if o != "" && !o.Valid() {
		return nil, appErrors.NewValidation("outcome", "is not a ledger outcome")
	}
	page, pageSize, offset := paginate(page, pageSize)
	entries, total, err := s.Ledger.ListByCampaign(ctx, id, model.LedgerFilter{Outcome: o, Offset: offset, Limit: pageSize})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	return &LedgerPage{Entries: entries, Pagination: pagination(page, pageSize, total)}, nil
}

type RecipientSample struct {
	ContactID int    `json:"contact_id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// RecipientPreview describes who a campaign would reach if started now.
// Addressable counts the contacts with an address per channel; the
// others would be skipped with a missing address.
type RecipientPreview struct {
	CampaignID      int                   `json:"campaign_id"`
	TargetSetID     int                   `json:"target_set_id"`
	TotalRecipients int                   `json:"total_recipients"`
	Jobs            int                   `json:"jobs"`
	Addressable     map[model.Channel]int `json:"addressable"`
	PreviewCount    int                   `json:"preview_count"`
	Recipients      []RecipientSample     `json:"recipients"`
}

// Recipients resolves the campaign's target set and returns the counts
// plus the first sample contacts, at most 100.
func (s *CampaignService) Recipients(ctx context.Context, p *model.Principal, id, sample int) (*RecipientPreview, error) {
	c, err := s.GetCampaignDetails(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if sample <= 0 || sample > maxRecipientSample {
		sample = maxRecipientSample
	}
	contacts, err := s.ContactRepo.ResolveTargetSet(ctx, c.TargetSetID)
	if err != nil {
		return nil, err
	}

	channels := c.Channel.Expand()
	out := &RecipientPreview{
		CampaignID:      c.ID,
		TargetSetID:     c.TargetSetID,
		TotalRecipients: len(contacts),
		Jobs:            len(contacts) * len(channels),
		Addressable:     make(map[model.Channel]int, len(channels)),
		Recipients:      make([]RecipientSample, 0, min(sample, len(contacts))),
	}
	for _, ch := range channels {
		out.Addressable[ch] = 0
	}
	for i := range contacts {
		contact := &contacts[i]
		for _, ch := range channels {
			if contact.AddressFor(ch) != "" {
				out.Addressable[ch]++
			}
		}
		if len(out.Recipients) < sample {
			out.Recipients = append(out.Recipients, RecipientSample{ContactID: contact.ID, Email: contact.Email, Phone: contact.Phone})
		}
	}
	out.PreviewCount = len(out.Recipients)
	return out, nil
}
