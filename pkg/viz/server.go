package viz

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/norasector/framegrab/pkg/util"
	"github.com/rs/zerolog"
)

type Producer interface {
	Name() string
	// GetImage returns the current rendering, or nil if there is none yet.
	GetImage() *ImageContainer
}

// Server renders registered producers into PNGs while someone is looking at
// their bucket, and serves them over HTTP.
type Server struct {
	images          map[string]map[string]*ImageContainer
	mu              sync.RWMutex
	srv             *http.Server
	producerBuckets map[string]map[string]Producer
	updateInterval  time.Duration
	lastViewed      map[string]time.Time
	logger          zerolog.Logger
}

func NewServer(port int, updateInterval time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		images:          make(map[string]map[string]*ImageContainer),
		producerBuckets: make(map[string]map[string]Producer),
		lastViewed:      make(map[string]time.Time),
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval:  updateInterval,
		logger:          logger,
	}
	s.srv.Handler = s.routes()
	return s
}

func (s *Server) Register(bucket string, p Producer) {
	s.mu.Lock()
	b, ok := s.producerBuckets[bucket]
	if !ok {
		b = make(map[string]Producer)
		s.producerBuckets[bucket] = b
	}
	b[p.Name()] = p
	s.mu.Unlock()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.updateInterval):
				s.refresh(time.Second)
			}
		}
	}()

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// refresh renders every producer in buckets viewed within the window.
func (s *Server) refresh(window time.Duration) {
	type job struct {
		bucket string
		p      Producer
	}
	var jobs []job
	s.mu.RLock()
	for bucket, producers := range s.producerBuckets {
		if time.Since(s.lastViewed[bucket]) >= window {
			continue
		}
		for _, p := range producers {
			jobs = append(jobs, job{bucket, p})
		}
	}
	s.mu.RUnlock()

	for _, j := range jobs {
		var img *ImageContainer
		elapsed := util.TimeOperation(func() { img = j.p.GetImage() })
		if img == nil {
			continue
		}
		s.logger.Debug().Str("bucket", j.bucket).Str("image", img.name).Dur("render", elapsed).Msg("rendered image")

		s.mu.Lock()
		b, ok := s.images[j.bucket]
		if !ok {
			b = make(map[string]*ImageContainer)
			s.images[j.bucket] = b
		}
		b[img.name] = img
		s.mu.Unlock()
	}
}

func (s *Server) markViewed(bucket string) {
	s.mu.Lock()
	s.lastViewed[bucket] = time.Now()
	s.mu.Unlock()
}

var viewTemplate = template.Must(template.New("view").Parse(`<html><head><title>framegrab</title>
<script type="text/javascript">
	window.onload = function() {
		setInterval(function() {
			var imgs = document.getElementsByTagName('img');
			for (var i = 0; i < imgs.length; i++) {
				imgs[i].src = imgs[i].src.split("?")[0] + "?" + new Date().getTime();
			}
		}, {{.RefreshMillis}});
	}
</script></head>
<body style="background-color: black; color: white">
{{range .Buckets}}<a href="/view/{{.}}">{{.}}</a> {{end}}
<div style="display: flex; flex-direction: row; flex-wrap: wrap">
{{range .Images}}<div><img src="/img/{{$.Bucket}}/{{.}}" /></div>{{end}}
</div></body></html>`))

func (s *Server) routes() http.Handler {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		keys := sortedKeys(s.producerBuckets)
		s.mu.RUnlock()
		if len(keys) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Redirect(w, r, "/view/"+url.PathEscape(keys[0]), http.StatusFound)
	})

	handler.GET("/view/:bucket", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")

		s.mu.RLock()
		producers, ok := s.producerBuckets[bucket]
		buckets := sortedKeys(s.producerBuckets)
		names := sortedKeys(producers)
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.markViewed(bucket)

		w.Header().Set("Content-Type", "text/html")
		err := viewTemplate.Execute(w, struct {
			Bucket        string
			Buckets       []string
			Images        []string
			RefreshMillis int64
		}{bucket, buckets, names, s.updateInterval.Milliseconds()})
		if err != nil {
			s.logger.Warn().Err(err).Msg("error rendering view")
		}
	})

	handler.GET("/img/:bucket/:img", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")
		s.markViewed(bucket)

		s.mu.RLock()
		img, ok := s.images[bucket][params.ByName("img")]
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Write(img.data)
	})

	return handler
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
