package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/launchfleet/launchbot/internal/state"
)

// Launch parameter defaults applied when the participant doesn't override
// them: a 10k USD starting market cap with 60% of supply in the fair launch.
const (
	DefaultMarketCapUSD      = 10_000
	DefaultFairLaunchPercent = 60
)

// CoinLaunchFlow collects a coin definition (name, ticker, image) across as
// many turns as it takes, then hands the launch transaction to the chain
// through the group's fee-split manager.
type CoinLaunchFlow struct {
	Network string
	now     func() time.Time
}

// NewCoinLaunch builds the coin-launch handler.
func NewCoinLaunch(network string) *CoinLaunchFlow {
	return &CoinLaunchFlow{Network: network, now: time.Now}
}

func (f *CoinLaunchFlow) Name() string { return "coinlaunch" }

func (f *CoinLaunchFlow) Handle(ctx context.Context, fc *Context) error {
	logTurn(f.Name(), fc)

	if fc.Group == nil || len(fc.Group.Managers) == 0 {
		return fc.Respond(ctx,
			"You need a fee-split group before launching a coin. Say \"create a group for everyone here\" and I'll set one up.")
	}
	if m := fc.Member(); m != nil && m.PendingTx != nil {
		return fc.Respond(ctx,
			"You already have a transaction waiting for confirmation. Let that land first.")
	}

	coin := f.currentCoin(fc)
	var problems []string

	// Fold this turn's text into the collected coin data.
	if body := fc.Turn.Body(); body != "" {
		if name, ticker, ok := ParseCoinCaption(body); ok {
			coin.Name = name
			coin.Ticker = ticker
		} else if coin.Name == "" && looksLikeName(body) {
			coin.Name = strings.TrimSpace(body)
		}
	}
	if coin.Ticker != "" && !ValidTicker(coin.Ticker) {
		problems = append(problems, fmt.Sprintf("%q isn't a valid ticker (1-8 letters or digits)", coin.Ticker))
		coin.Ticker = ""
	}

	// Fold in this turn's attachment.
	if att := fc.Turn.Attachment; att != nil && att.Attachment != nil {
		uri, err := f.uploadImage(ctx, fc)
		if err != nil {
			slog.Warn("coinlaunch: image upload failed", "error", err)
			problems = append(problems, "I couldn't store that image, please send it again")
		} else {
			coin.ImageURI = uri
		}
	}

	missing := missingFields(coin)
	if len(missing) > 0 || len(problems) > 0 {
		if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
			g.Member(fc.Sender).Progress = &state.LaunchProgress{
				Step:      state.StepCollectingCoinData,
				Coin:      &coin,
				UpdatedAt: f.now(),
			}
			return nil
		}); err != nil {
			return err
		}
		return fc.Respond(ctx, collectionPrompt(coin, missing, problems))
	}

	return f.submit(ctx, fc, coin)
}

func (f *CoinLaunchFlow) submit(ctx context.Context, fc *Context, coin state.CoinData) error {
	manager := fc.Group.Managers[len(fc.Group.Managers)-1]
	params := launchParams(fc.Participant.Preferences)
	firstLaunch := len(fc.Participant.Launches) == 0

	if err := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
		m := g.Member(fc.Sender)
		m.Progress = nil
		m.PendingTx = &state.PendingTransaction{
			Type:           state.TxCoinCreation,
			Network:        f.Network,
			Coin:           &coin,
			Params:         &params,
			FirstLaunch:    firstLaunch,
			ManagerAddress: manager.Address,
			SubmittedAt:    f.now(),
		}
		return nil
	}); err != nil {
		return err
	}

	if err := fc.Launcher.RequestCoinCreation(ctx, fc.ConversationID(), fc.Sender, coin, params, manager.Address); err != nil {
		if uerr := fc.UpdateGroup(ctx, func(g *state.GroupRecord) error {
			g.Member(fc.Sender).PendingTx = nil
			return nil
		}); uerr != nil {
			slog.Error("coinlaunch: rollback pending tx failed", "error", uerr)
		}
		slog.Error("coinlaunch: launch request failed", "error", err)
		return fc.Respond(ctx, "Something went wrong preparing the launch. Please try again.")
	}

	return fc.Respond(ctx, fmt.Sprintf(
		"Launching %s (%s) with a $%d starting market cap. Approve the transaction in your wallet and I'll confirm once it lands.",
		coin.Name, coin.Ticker, params.StartingMarketCapUSD))
}

// currentCoin returns collected-so-far coin data for the sender.
func (f *CoinLaunchFlow) currentCoin(fc *Context) state.CoinData {
	if m := fc.Member(); m != nil && m.Progress != nil && m.Progress.Coin != nil {
		return *m.Progress.Coin
	}
	return state.CoinData{}
}

func (f *CoinLaunchFlow) uploadImage(ctx context.Context, fc *Context) (string, error) {
	att := fc.Turn.Attachment.Attachment
	if len(att.Data) == 0 {
		// The transport delivered a remote reference without bytes; keep the
		// URL as-is rather than failing the whole turn.
		if att.URL != "" {
			return att.URL, nil
		}
		return "", fmt.Errorf("attachment carried no data")
	}
	return fc.Uploader.Upload(ctx, att.Data)
}

func launchParams(prefs state.Preferences) state.LaunchParams {
	p := state.LaunchParams{
		StartingMarketCapUSD: DefaultMarketCapUSD,
		FairLaunchPercent:    DefaultFairLaunchPercent,
	}
	if prefs.StartingMarketCapUSD > 0 {
		p.StartingMarketCapUSD = prefs.StartingMarketCapUSD
	}
	if prefs.FairLaunchPercent > 0 {
		p.FairLaunchPercent = prefs.FairLaunchPercent
	}
	return p
}

func missingFields(c state.CoinData) []string {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "a name")
	}
	if c.Ticker == "" {
		missing = append(missing, "a ticker")
	}
	if c.ImageURI == "" {
		missing = append(missing, "an image")
	}
	return missing
}

func collectionPrompt(c state.CoinData, missing, problems []string) string {
	var b strings.Builder
	if len(problems) > 0 {
		b.WriteString(strings.Join(problems, ". "))
		b.WriteString(".\n")
	}
	if c.Name != "" || c.Ticker != "" {
		b.WriteString(fmt.Sprintf("Got it so far: %s", describeCoin(c)))
		b.WriteString(".\n")
	}
	if len(missing) > 0 {
		b.WriteString("I still need ")
		b.WriteString(strings.Join(missing, ", "))
		b.WriteString(`. Tip: send the image with a caption like "Doge (DOGE)".`)
	}
	return strings.TrimSpace(b.String())
}

func describeCoin(c state.CoinData) string {
	switch {
	case c.Name != "" && c.Ticker != "":
		return fmt.Sprintf("%s (%s)", c.Name, c.Ticker)
	case c.Name != "":
		return c.Name
	default:
		return c.Ticker
	}
}

// looksLikeName filters out obvious commands so "launch a coin" doesn't
// become the coin's name.
func looksLikeName(body string) bool {
	t := strings.ToLower(strings.TrimSpace(body))
	if len(t) > 64 {
		return false
	}
	for _, verb := range []string{"launch", "create", "make", "start", "help", "what", "how", "can you"} {
		if strings.HasPrefix(t, verb) {
			return false
		}
	}
	return t != ""
}
