package quiz

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Player drives a Session from line-oriented input, one command per line.
type Player struct {
	Session    *Session
	Curriculum Curriculum
	Fetcher    Fetcher
	In         io.Reader
	Out        io.Writer
}

// Run plays until the input ends or the user quits.
func (p *Player) Run(ctx context.Context) error {
	lines := bufio.NewScanner(p.In)
	topics := p.Curriculum.Topics()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch p.Session.State() {
		case StateMenu:
			p.printMenu()
		case StateInQuestion:
			p.printQuestion()
		case StateResult:
			p.printResult()
		}

		if !lines.Scan() {
			return lines.Err()
		}
		input := strings.TrimSpace(lines.Text())
		if input == "q" {
			return nil
		}

		switch p.Session.State() {
		case StateMenu:
			n, err := strconv.Atoi(input)
			if err != nil || n < 1 || n > len(topics) {
				fmt.Fprintln(p.Out, "請輸入題組編號")
				continue
			}
			p.load(ctx, topics[n-1])
		case StateInQuestion:
			if input == "m" {
				_ = p.Session.Home()
				continue
			}
			p.answer(input)
		case StateShowingExplanation:
			if input == "m" {
				_ = p.Session.Home()
				continue
			}
			_ = p.Session.Next()
		case StateResult:
			switch input {
			case "r":
				_ = p.Session.Restart()
			default:
				_ = p.Session.Home()
			}
		}
	}
}

func (p *Player) load(ctx context.Context, t Topic) {
	if err := p.Session.SelectTopic(t); err != nil {
		return
	}
	fmt.Fprintf(p.Out, "載入中：%s\n", t.Name)
	questions, err := LoadBank(ctx, p.Fetcher, t.File)
	if err != nil {
		_ = p.Session.BankFailed(err)
		fmt.Fprintf(p.Out, "題庫準備中 (File not found)：%s\n", t.File)
		return
	}
	_ = p.Session.BankLoaded(questions)
}

func (p *Player) answer(input string) {
	q, ok := p.Session.Current()
	if !ok {
		return
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(q.Options) {
		fmt.Fprintln(p.Out, "請輸入選項編號")
		return
	}
	res, err := p.Session.Answer(q.Options[n-1])
	if err != nil {
		return
	}
	if res.Correct {
		fmt.Fprintln(p.Out, "✔ 答對了")
	} else {
		fmt.Fprintf(p.Out, "✘ 正確答案：%s\n", res.Answer)
	}
	fmt.Fprintf(p.Out, "解析：%s\n", res.Explanation)
	prog := p.Session.Progress()
	fmt.Fprintf(p.Out, "得分: %d  (%d/%d)  按 Enter 繼續\n", prog.Score, prog.Position, prog.Total)
}

func (p *Player) printMenu() {
	if err := p.Session.LastError(); err != nil {
		fmt.Fprintln(p.Out, "題庫暫時無法使用，請稍後再試。")
	}
	n := 1
	for _, g := range p.Curriculum.Grades {
		fmt.Fprintf(p.Out, "== %s ==\n", g.Name)
		for _, t := range g.Topics {
			fmt.Fprintf(p.Out, "%2d. %s\n", n, t.Name)
			n++
		}
	}
	fmt.Fprintln(p.Out, "選擇題組 (q 離開)：")
}

func (p *Player) printQuestion() {
	q, ok := p.Session.Current()
	if !ok {
		return
	}
	prog := p.Session.Progress()
	fmt.Fprintf(p.Out, "[%d/%d] 得分: %d\n", prog.Position, prog.Total, prog.Score)
	if q.Article != "" {
		fmt.Fprintf(p.Out, "%s\n\n", q.Article)
	}
	fmt.Fprintln(p.Out, q.Question)
	for i, opt := range q.Options {
		fmt.Fprintf(p.Out, "  %d) %s\n", i+1, opt)
	}
}

func (p *Player) printResult() {
	prog := p.Session.Progress()
	fmt.Fprintf(p.Out, "最終得分：%d\n%s\n", prog.Score, p.Session.Comment())
	fmt.Fprintln(p.Out, "r 重新開始, m 回選單, q 離開")
}
