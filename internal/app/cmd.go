package app

// Command はgymgateバイナリのサブコマンドを表す。
type Command string

const (
	// CommandServe は入館管理APIを起動する。
	// Bearerトークン認証とJITプロビジョニングを行い、会員へのQR入館証の発行
	// （GET /api/credentials/current）と受付端末からのチェックイン検証
	// （POST /api/checkins）、ジムごとの入館履歴の参照を提供する。
	CommandServe Command = "serve"
	// CommandMigrate はidentities・check_ins・membershipsテーブルの
	// 未適用マイグレーションをすべて適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIの/healthを呼び出し、
	// データベース疎通が正常なら終了コード0を返す。
	// シェルを持たないdistrolessイメージのDocker HEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
