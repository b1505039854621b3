package app

import (
	"fmt"
	"sort"
	"strings"
)

// Command はlengoバイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

var commandSummaries = map[Command]string{
	CommandServe:       "認証APIサーバーを起動する",
	CommandWorker:      "期限切れセッションの定期削除を実行する",
	CommandMigrate:     "PostgreSQLスキーマを最新化して終了する",
	CommandHealthcheck: "ローカルの/healthを叩き、結果を終了コードで返す",
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしはserve。未知のサブコマンドは利用方法を含むエラーを返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	cmd := Command(args[0])
	if _, ok := commandSummaries[cmd]; !ok {
		return "", fmt.Errorf("unknown command %q\n%s", args[0], Usage())
	}
	return cmd, nil
}

// Usage はサブコマンド一覧を返す。
func Usage() string {
	names := make([]string, 0, len(commandSummaries))
	for cmd := range commandSummaries {
		names = append(names, string(cmd))
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: lengo <command>\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-12s %s\n", name, commandSummaries[Command(name)])
	}
	return b.String()
}
