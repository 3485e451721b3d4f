package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"fsmarket.sim/internal/persistence/snapshot"
	"fsmarket.sim/internal/sim/mathx"
	"fsmarket.sim/internal/sim/model"
)

func inspectCmd() *cobra.Command {
	var (
		section string
		limit   int
	)
	c := &cobra.Command{
		Use:   "inspect <snapshot | run dir>",
		Short: "Print the registries of a snapshot as tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path, err := resolveSnapshot(args[0])
			if err != nil {
				return err
			}
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return err
			}
			return inspect(c.OutOrStdout(), snap, section, limit)
		},
	}
	c.Flags().StringVar(&section, "section", "all", "summary, providers, buyers, orders, contracts, challenges or all")
	c.Flags().IntVar(&limit, "limit", 20, "max rows per table (0 for all)")
	return c
}

// resolveSnapshot accepts a snapshot file or a run directory.
func resolveSnapshot(arg string) (string, error) {
	st, err := os.Stat(arg)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return arg, nil
	}
	latest, err := snapshot.Latest(snapshotDir(arg))
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("no snapshot under %s", arg)
	}
	return latest, nil
}

func inspect(w io.Writer, snap snapshot.SnapshotV1, section string, limit int) error {
	st := snap.State
	sections := map[string]func(){
		"summary":    func() { renderSummary(w, snap) },
		"providers":  func() { renderProviders(w, st, limit) },
		"buyers":     func() { renderBuyers(w, st, limit) },
		"orders":     func() { renderOrders(w, st, limit) },
		"contracts":  func() { renderContracts(w, st, limit) },
		"challenges": func() { renderChallenges(w, st, limit) },
	}
	if section == "all" {
		for _, name := range []string{"summary", "providers", "buyers", "orders", "contracts", "challenges"} {
			sections[name]()
		}
		return nil
	}
	fn, ok := sections[section]
	if !ok {
		return fmt.Errorf("unknown section %q", section)
	}
	fn()
	return nil
}

func renderTable(w io.Writer, title string, header []string, data [][]string) {
	fmt.Fprintf(w, "%s\n", title)
	if len(data) == 0 {
		fmt.Fprintf(w, "  (none)\n\n")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data)
	table.Render()
	fmt.Fprintln(w)
}

func clip[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
func u(v uint64) string    { return strconv.FormatUint(v, 10) }
func tok(v float64) string { return humanize.FormatFloat("#,###.####", v) }

func renderSummary(w io.Writer, snap snapshot.SnapshotV1) {
	st := snap.State
	m := st.Market
	rows := [][]string{
		{"run", snap.Header.RunID},
		{"tick", humanize.Comma(int64(st.Tick))},
		{"digest", snap.Header.Digest},
		{"buyers", strconv.Itoa(len(st.Buyers))},
		{"providers", strconv.Itoa(len(st.Providers))},
		{"pending orders", strconv.Itoa(len(st.Orders))},
		{"contracts", strconv.Itoa(len(st.Active))},
		{"challenges", strconv.Itoa(len(st.Challenges))},
		{"storage used", fmt.Sprintf("%s of %s", humanize.SIWithDigits(st.UsedStorage(), 2, "u"), humanize.SIWithDigits(st.TotalCapacity(), 2, "u"))},
		{"storage stolen", humanize.SIWithDigits(st.StorageStolen, 2, "u")},
		{"storage price ($/u)", num(m.StoragePrice)},
		{"gas price ($)", num(m.GasPrice)},
		{"token price ($)", num(m.TokenPrice)},
		{"prevailing price (tok/u)", num(m.SPrice)},
		{"minted", tok(st.VMinted)},
		{"slashed", tok(st.VSlashed)},
		{"burned", tok(st.VBurned)},
		{"gas spent", tok(st.VGasSpent)},
		{"granted", tok(st.VGranted)},
		{"exited", tok(st.VExited)},
		{"provider balance gini", num(mathx.Gini(lo.Map(st.ProviderIDs(), func(id model.ProviderID, _ int) float64 {
			return st.Providers[id].Balance
		})))},
	}
	renderTable(w, "Summary", []string{"field", "value"}, rows)
}

func renderProviders(w io.Writer, st *model.State, limit int) {
	ids := clip(st.ProviderIDs(), limit)
	rows := lo.Map(ids, func(id model.ProviderID, _ int) []string {
		p := st.Providers[id]
		name := u(uint64(id))
		if p.Treasury {
			name += " (treasury)"
		}
		return []string{name, humanize.SIWithDigits(p.Capacity, 1, "u"), fmt.Sprintf("%.0f%%", 100*p.Utilization()),
			tok(p.Balance), num(p.Discount), num(p.RiskTolerance), tok(p.ForgesWon), u(p.JoinedAt)}
	})
	renderTable(w, fmt.Sprintf("Providers (%d)", len(st.Providers)),
		[]string{"id", "capacity", "used", "balance", "discount", "risk", "forges won", "joined"}, rows)
}

func renderBuyers(w io.Writer, st *model.State, limit int) {
	ids := clip(st.BuyerIDs(), limit)
	rows := lo.Map(ids, func(id model.BuyerID, _ int) []string {
		b := st.Buyers[id]
		return []string{u(uint64(id)), tok(b.Balance), tok(b.Fiat), num(b.Stinginess),
			fmt.Sprintf("%d/%d", b.UnfilledOrders, b.AllOrders), num(b.UXTolerance), tok(b.ChallengesWon)}
	})
	renderTable(w, fmt.Sprintf("Buyers (%d)", len(st.Buyers)),
		[]string{"id", "balance", "fiat", "stinginess", "unfilled", "ux tolerance", "challenge net"}, rows)
}

func renderOrders(w io.Writer, st *model.State, limit int) {
	ids := clip(st.OrderIDs(), limit)
	rows := lo.Map(ids, func(id model.OrderID, _ int) []string {
		o := st.Orders[id]
		return []string{u(uint64(id)), u(uint64(o.Buyer)), num(o.Size), num(o.Price), tok(o.Escrow), u(o.Duration), u(o.Age(st.Tick))}
	})
	renderTable(w, fmt.Sprintf("Pending orders (%d)", len(st.Orders)),
		[]string{"id", "buyer", "size", "price", "escrow", "duration", "age"}, rows)
}

func renderContracts(w io.Writer, st *model.State, limit int) {
	ids := clip(st.ContractIDs(), limit)
	rows := lo.Map(ids, func(id model.OrderID, _ int) []string {
		c := st.Active[id]
		return []string{u(uint64(id)), u(uint64(c.Provider)), u(uint64(c.Buyer)), num(c.Size), num(c.Price),
			tok(c.Escrow), tok(c.Stake), fmt.Sprintf("%d/%d", c.Age(st.Tick), c.NextEpoch), strconv.Itoa(c.ChallengesLeft)}
	})
	renderTable(w, fmt.Sprintf("Contracts (%d)", len(st.Active)),
		[]string{"id", "provider", "buyer", "size", "price", "escrow", "stake", "age", "challenges left"}, rows)
}

func renderChallenges(w io.Writer, st *model.State, limit int) {
	ids := clip(st.ChallengeIDs(), limit)
	rows := lo.Map(ids, func(id model.OrderID, _ int) []string {
		ch := st.Challenges[id]
		return []string{u(uint64(id)), u(uint64(ch.Enforcer)), u(ch.IssuedAt), u(ch.DueBy)}
	})
	renderTable(w, fmt.Sprintf("Challenges (%d)", len(st.Challenges)),
		[]string{"contract", "enforcer", "issued", "due by"}, rows)
}
