// Command gdrive-auth runs the OAuth consent flow once and prints the
// refresh token the gdrive output storage provider needs. When
// GDRIVE_FOLDER_ID is set it also checks that the token can reach the
// folder renders will be uploaded to.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"montage/internal/config"
	"montage/internal/pkg/logger"
	"montage/internal/storage"
)

const consentTimeout = 3 * time.Minute

type callback struct {
	code string
	err  error
}

func main() {
	ctx := context.Background()
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	clientID := config.MustEnv("GDRIVE_CLIENT_ID")
	clientSecret := config.MustEnv("GDRIVE_CLIENT_SECRET")
	folderID := config.Env("GDRIVE_FOLDER_ID", "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("failed to open callback listener", err)
	}
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := storage.GDriveOAuthConfig(clientID, clientSecret, redirectURL)

	state := randomState()
	results := make(chan callback, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with a forced consent screen, so a refresh token is issued.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Println("\nOpen this URL in your browser:")
	fmt.Println(authURL)
	log.Info("waiting for authorization", "redirect_url", redirectURL, "timeout", consentTimeout.String())

	var res callback
	select {
	case res = <-results:
	case <-time.After(consentTimeout):
		res.err = fmt.Errorf("timed out waiting for authorization")
	}
	if res.err != nil {
		log.LogFatal("authorization failed", res.err)
	}

	tok, err := conf.Exchange(ctx, res.code)
	if err != nil {
		log.LogFatal("token exchange failed", err)
	}
	if strings.TrimSpace(tok.RefreshToken) == "" {
		log.Error("no refresh token received; revoke the app at https://myaccount.google.com/permissions and run again")
		return
	}

	if folderID != "" {
		if err := checkFolder(ctx, conf, tok, folderID); err != nil {
			log.LogFatal("token cannot reach the output folder", err, "folder_id", folderID)
		}
		log.Info("output folder reachable", "folder_id", folderID)
	}

	fmt.Println("\nGDRIVE_REFRESH_TOKEN=" + tok.RefreshToken)
}

func callbackHandler(state string, results chan<- callback) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callback
		switch {
		case q.Get("state") != state:
			res.err = fmt.Errorf("invalid state")
		case q.Get("error") != "":
			res.err = fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			res.err = fmt.Errorf("missing code")
		default:
			res.code = q.Get("code")
		}

		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
		}
		select {
		case results <- res:
		default:
		}
	})
	return mux
}

// checkFolder fetches the folder metadata with the new token.
func checkFolder(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token, folderID string) error {
	srv, err := drive.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return err
	}
	f, err := srv.Files.Get(folderID).Fields("id", "mimeType").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return err
	}
	if f.MimeType != "application/vnd.google-apps.folder" {
		return fmt.Errorf("%s is not a folder", folderID)
	}
	return nil
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
