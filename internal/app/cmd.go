package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebhookサーバーと定期同期を同一プロセスで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期同期のみを起動することを示す。
	CommandWorker Command = "worker"
	// CommandSyncOnce は同期サイクルを1回だけ実行して終了することを示す。
	CommandSyncOnce Command = "sync-once"
	// CommandMigrate はカーソル用テーブルのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCRMCheck はBrevoへの疎通を確認することを示す。
	CommandCRMCheck Command = "crm-check"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandSyncOnce, CommandMigrate, CommandCRMCheck, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
