package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorgonia/seqdecoder"
	"github.com/gorgonia/seqdecoder/encoding/gif"
	"github.com/gorgonia/seqdecoder/encoding/mjpeg"
	"github.com/gorgonia/seqdecoder/encoding/ws"
	"github.com/gorgonia/seqdecoder/hparams"
	"github.com/gorgonia/seqdecoder/seqnet"
	"github.com/sirupsen/logrus"
)

var (
	mode         = flag.String("mode", "train", "train, test or predict")
	restore      = flag.Bool("restore", false, "train: reconcile with the stored hyperparameters and resume from the checkpoint")
	predictFrom  = flag.String("predict_from_file", "", "predict: file of input lines")
	predictTo    = flag.String("predict_to_file", "", "predict: output file. Defaults to predict_from_file.result")
	progressGif  = flag.String("progress_gif", "", "write a GIF with one frame per evaluation")
	progressHTTP = flag.String("progress_http", "", "serve live progress on this address (/stream MJPEG, /ws JSON)")
	scheduleDot  = flag.String("schedule_dot", "", "write the training schedule as a Graphviz file and exit")
	logLevel     = flag.String("log_level", "info", "logrus level")
	logJSON      = flag.Bool("log_json", false, "log as JSON")
)

func paramFlags(fs *flag.FlagSet) *hparams.Params {
	p := hparams.Defaults()
	fs.IntVar(&p.HiddenSize, "hidden_size", p.HiddenSize, "input feature width")
	fs.IntVar(&p.B, "B", p.B, "branch width; the target length is 4*B*2")
	fs.Float64Var(&p.WeightDecay, "weight_decay", p.WeightDecay, "L2 regularization")
	fs.IntVar(&p.VocabSize, "vocab_size", p.VocabSize, "number of output tokens")
	fs.IntVar(&p.TrainEpochs, "train_epochs", p.TrainEpochs, "epochs of training")
	fs.IntVar(&p.EvalFrequency, "eval_frequency", p.EvalFrequency, "epochs between evaluations")
	fs.IntVar(&p.BatchSize, "batch_size", p.BatchSize, "training and prediction batch size")
	fs.Float64Var(&p.LR, "lr", p.LR, "learning rate")
	fs.StringVar(&p.Optimizer, "optimizer", p.Optimizer, "adam, sgd, momentum, rmsprop or adagrad")
	fs.IntVar(&p.StartDecayStep, "start_decay_step", p.StartDecayStep, "step the learning rate starts decaying at")
	fs.IntVar(&p.DecaySteps, "decay_steps", p.DecaySteps, "steps between learning rate decays")
	fs.Float64Var(&p.DecayFactor, "decay_factor", p.DecayFactor, "learning rate decay factor")
	fs.Float64Var(&p.MaxGradNorm, "max_gradient_norm", p.MaxGradNorm, "maximum global norm of the gradients")
	fs.BoolVar(&p.TimeMajor, "time_major", p.TimeMajor, "time major tensors")
	fs.StringVar(&p.DataDir, "data_dir", p.DataDir, "directory of {train,test}.{input,target}")
	fs.StringVar(&p.ModelDir, "model_dir", p.ModelDir, "directory of hparams.json and checkpoints")
	fs.IntVar(&p.TrainSamples, "train_samples", p.TrainSamples, "shuffle buffer size of the train split")
	fs.IntVar(&p.TestSamples, "test_samples", p.TestSamples, "evaluation batch size")
	fs.IntVar(&p.LogEveryN, "log_every_n", p.LogEveryN, "steps between training logs")
	fs.IntVar(&p.CheckpointEvery, "checkpoint_every", p.CheckpointEvery, "cycles between checkpoints. 0 checkpoints at the end of the run only")
	fs.Int64Var(&p.Seed, "seed", p.Seed, "shuffle seed. 0 seeds from the clock")
	return &p
}

func newModel(p hparams.Params) (seqdecoder.Adapter, error) {
	m, err := seqnet.New(seqnet.ConfFromParams(p))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func setupLogger() (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	if *logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}

func main() {
	p := paramFlags(flag.CommandLine)
	flag.Parse()

	log, err := setupLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err = run(log, p); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(log *logrus.Logger, p *hparams.Params) error {
	m, err := seqdecoder.ParseMode(*mode)
	if err != nil {
		return err
	}
	if *scheduleDot != "" {
		dot := seqdecoder.ScheduleFor(*p).ToDot()
		return ioutil.WriteFile(*scheduleDot, []byte(dot), 0644)
	}

	var encs []seqdecoder.OutputEncoder
	if *progressGif != "" {
		f, err := os.Create(*progressGif)
		if err != nil {
			return err
		}
		defer f.Close()
		encs = append(encs, gif.NewGifEncoder(f, 600, 800))
	}
	if *progressHTTP != "" {
		stream := mjpeg.NewEncoder(600, 800)
		sock := ws.NewEncoder(log)
		encs = append(encs, stream, sock)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/stream", stream)
			mux.Handle("/ws", sock)
			log.WithField("addr", *progressHTTP).Info("serving progress")
			if err := http.ListenAndServe(*progressHTTP, mux); err != nil {
				log.WithError(err).Error("progress server")
			}
		}()
	}

	opts := seqdecoder.Options{
		Mode:        m,
		Params:      *p,
		Restore:     *restore,
		PredictFrom: *predictFrom,
		PredictTo:   *predictTo,
		Logger:      log,
	}
	if len(encs) > 0 {
		opts.OutputEncoder = seqdecoder.MultiEncoder(encs...)
	}
	d, err := seqdecoder.New(opts, newModel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
