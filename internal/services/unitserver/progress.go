package unitserver

import (
	"context"
	"errors"

	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// Progress derives the coder's progress on a job from persistent state.
// Binding happens here too: looking at a job counts as joining it.
func (s *Service) Progress(ctx context.Context, coder *models.User, jobID int64) (*models.Progress, error) {
	run := func() (*models.Progress, error) {
		var progress *models.Progress
		err := s.engine.WithTx(ctx, func(tx interfaces.EngineTx) error {
			var err error
			progress, err = progressTx(tx, coder, jobID)
			return err
		})
		return progress, err
	}

	progress, err := run()
	if errors.Is(err, common.ErrConflict) {
		progress, err = run()
	}
	return progress, err
}

func progressTx(tx interfaces.EngineTx, coder *models.User, jobID int64) (*models.Progress, error) {
	job, err := tx.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	jobUser, jobset, err := resolveJobSet(tx, job, coder, true)
	if err != nil {
		return nil, err
	}

	rules := jobset.Rules
	strat := strategyFor(rules)

	nTotal, err := strat.nTotal(tx, jobset)
	if err != nil {
		return nil, err
	}
	nCoded, err := tx.CountCoded(jobset.ID, coder.ID)
	if err != nil {
		return nil, err
	}
	lastModified, err := tx.LastModified(jobset.ID, coder.ID)
	if err != nil {
		return nil, err
	}

	progress := &models.Progress{
		NTotal:        nTotal,
		NCoded:        nCoded,
		SeekBackwards: rules.SeekBackwards(),
		SeekForwards:  rules.SeekForwards() && strat.allowsSeekForward(),
		LastModified:  lastModified,
	}
	if rules.ShowDamage {
		damage := jobUser.Damage
		progress.Damage = &damage
		progress.MaxDamage = rules.MaxDamage
	}
	if rules.MaxDamage != nil {
		gameOver := rules.GameOver(jobUser.Damage)
		progress.GameOver = &gameOver
	}
	return progress, nil
}
