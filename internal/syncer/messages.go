package syncer

import "fmt"

// User-facing progress and result messages.
const (
	MsgCreating = "Criando procedimento..."
	MsgSaving   = "Salvando passos..."
	MsgComplete = "Salvo com sucesso!"
	MsgError    = "Erro ao salvar. Tente novamente."
	MsgOffline  = "Sem conexão. Salvo localmente."
	MsgRetrying = "Tentando novamente..."
	MsgBusy     = "Sync in progress. Recording queued."

	MsgCreateFailed     = "Failed to create procedure"
	MsgNotAuthenticated = "User not authenticated"
	MsgSaveFailed       = "Failed to save steps"
)

func msgUploading(current, total int) string {
	return fmt.Sprintf("Enviando screenshots (%d/%d)...", current, total)
}
